package ports

import (
	"context"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

// OrderSnapshot is the REST view of an order used to seed and resynchronize a
// tracking session. RiderPosition is nil until a rider has been assigned.
type OrderSnapshot struct {
	OrderID       string
	Status        domain.OrderStatus
	RiderPosition *domain.Coordinates
}

// OrderLookup fetches the current order state from the storefront backend.
type OrderLookup interface {
	Snapshot(ctx context.Context, orderID string) (*OrderSnapshot, error)
}
