package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quickdash/storefront-core/internal/core/domain"
	"github.com/quickdash/storefront-core/internal/core/ports"
)

type orderResponse struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	RiderPosition *coordinatesPayload `json:"rider_position"`
}

type coordinatesPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Snapshot fetches the current order state via GET /orders/{id}/.
func (c *Client) Snapshot(ctx context.Context, orderID string) (*ports.OrderSnapshot, error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}

	var resp orderResponse
	status, err := c.getJSON(ctx, "/orders/"+url.PathEscape(orderID)+"/", &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("order snapshot: %w", err)
	}

	snap := &ports.OrderSnapshot{
		OrderID: resp.ID,
		Status:  domain.OrderStatus(resp.Status),
	}
	if resp.RiderPosition != nil {
		snap.RiderPosition = &domain.Coordinates{
			Lat: resp.RiderPosition.Lat,
			Lng: resp.RiderPosition.Lng,
		}
	}
	return snap, nil
}
