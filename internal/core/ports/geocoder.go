package ports

import "context"

// GeocodeResult is the outcome of a single reverse-geocode plus serviceability
// check. Address and IsServiceable are always taken from the same response.
type GeocodeResult struct {
	Address       string
	Components    []string
	IsServiceable bool
	WarehouseID   string
}

// Geocoder resolves a coordinate into a human-readable address and a
// serviceability verdict.
type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}
