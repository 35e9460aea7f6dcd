package rest

import (
	"context"
	"fmt"

	"github.com/quickdash/storefront-core/internal/core/ports"
)

type estimateRequest struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	WarehouseID string  `json:"warehouse_id"`
}

type estimateResponse struct {
	EtaMinutes int     `json:"eta_minutes"`
	DistanceKm float64 `json:"distance_km"`
}

// Estimate quotes a delivery window via POST /delivery/estimate/.
func (c *Client) Estimate(ctx context.Context, lat, lng float64, warehouseID string) (*ports.DeliveryEstimate, error) {
	var resp estimateResponse
	if _, err := c.postJSON(ctx, "/delivery/estimate/", estimateRequest{Lat: lat, Lng: lng, WarehouseID: warehouseID}, &resp); err != nil {
		return nil, fmt.Errorf("delivery estimate: %w", err)
	}
	return &ports.DeliveryEstimate{EtaMinutes: resp.EtaMinutes, DistanceKm: resp.DistanceKm}, nil
}
