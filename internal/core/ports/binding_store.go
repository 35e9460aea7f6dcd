package ports

import (
	"context"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

// BindingStore persists the session-scoped serviceability binding that gates
// storefront access. Save commits all three fields atomically; a partially
// written binding must never be observable. Load returns domain.ErrNoBinding
// when nothing is stored for the session.
type BindingStore interface {
	Save(ctx context.Context, sessionID string, b domain.ServiceabilityBinding) error
	Load(ctx context.Context, sessionID string) (*domain.ServiceabilityBinding, error)
	Clear(ctx context.Context, sessionID string) error
}
