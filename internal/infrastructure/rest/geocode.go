package rest

import (
	"context"
	"fmt"

	"github.com/quickdash/storefront-core/internal/core/ports"
)

type geocodeRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geocodeResponse struct {
	Address       string   `json:"address"`
	IsServiceable bool     `json:"is_serviceable"`
	Components    []string `json:"components"`
	WarehouseID   string   `json:"warehouse_id"`
}

// Resolve reverse-geocodes a coordinate and checks serviceability in a single
// round-trip. The address and verdict in the result always come from the same
// backend response.
func (c *Client) Resolve(ctx context.Context, lat, lng float64) (*ports.GeocodeResult, error) {
	var resp geocodeResponse
	if _, err := c.postJSON(ctx, "/location/serviceability/", geocodeRequest{Lat: lat, Lng: lng}, &resp); err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}

	return &ports.GeocodeResult{
		Address:       resp.Address,
		Components:    resp.Components,
		IsServiceable: resp.IsServiceable,
		WarehouseID:   resp.WarehouseID,
	}, nil
}
