package ports

import (
	"context"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

// DeviceLocator reports the device's current position. A failure here is
// always recoverable: callers fall back to manual pin placement.
type DeviceLocator interface {
	Current(ctx context.Context) (domain.Coordinates, error)
}
