package ports

import "context"

// DeliveryEstimate is the promised delivery window for a bound warehouse.
type DeliveryEstimate struct {
	EtaMinutes int
	DistanceKm float64
}

// EstimateProvider quotes a delivery estimate for a confirmed location.
type EstimateProvider interface {
	Estimate(ctx context.Context, lat, lng float64, warehouseID string) (*DeliveryEstimate, error)
}
