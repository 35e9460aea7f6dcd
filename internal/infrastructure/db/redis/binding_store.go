package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

// bindingTTL bounds how long a session's binding survives without activity.
const bindingTTL = 24 * time.Hour

// BindingStore persists serviceability bindings in Redis, one hash per
// session. All three fields are written in a single HSET so a binding is
// never observable partially written.
// Key format: binding:<session_id>
type BindingStore struct {
	client *redis.Client
}

// NewBindingStore creates a BindingStore wrapping the given Redis client.
func NewBindingStore(client *redis.Client) *BindingStore {
	return &BindingStore{client: client}
}

// Save atomically commits the binding and refreshes its TTL.
func (s *BindingStore) Save(ctx context.Context, sessionID string, b domain.ServiceabilityBinding) error {
	key := s.key(sessionID)
	if err := s.client.HSet(ctx, key,
		"lat", strconv.FormatFloat(b.Lat, 'f', -1, 64),
		"lng", strconv.FormatFloat(b.Lng, 'f', -1, 64),
		"warehouse_id", b.WarehouseID,
	).Err(); err != nil {
		return fmt.Errorf("binding save: %w", err)
	}
	if err := s.client.Expire(ctx, key, bindingTTL).Err(); err != nil {
		return fmt.Errorf("binding expire: %w", err)
	}
	return nil
}

// Load returns the binding stored for the session, or domain.ErrNoBinding.
func (s *BindingStore) Load(ctx context.Context, sessionID string) (*domain.ServiceabilityBinding, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("binding load: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNoBinding
	}

	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("binding load: bad lat: %w", err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, fmt.Errorf("binding load: bad lng: %w", err)
	}

	return &domain.ServiceabilityBinding{
		Lat:         lat,
		Lng:         lng,
		WarehouseID: fields["warehouse_id"],
	}, nil
}

// Clear removes the session's binding. Clearing an absent binding is not an
// error.
func (s *BindingStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("binding clear: %w", err)
	}
	return nil
}

func (s *BindingStore) key(sessionID string) string {
	return "binding:" + sessionID
}
