package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quickdash/storefront-core/internal/api/metrics"
	"github.com/quickdash/storefront-core/internal/core/domain"
	"github.com/quickdash/storefront-core/internal/core/ports"
)

const (
	defaultDebounce       = 600 * time.Millisecond
	defaultGeocodeTimeout = 5 * time.Second
)

// ResolverOptions tunes the resolution pipeline.
type ResolverOptions struct {
	// Debounce is how long the resolver waits after the last settle event
	// before issuing a geocode request. Defaults to 600ms.
	Debounce time.Duration
	// GeocodeTimeout bounds each geocode round-trip. Defaults to 5s.
	GeocodeTimeout time.Duration
}

func (o ResolverOptions) orDefault() ResolverOptions {
	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}
	if o.GeocodeTimeout <= 0 {
		o.GeocodeTimeout = defaultGeocodeTimeout
	}
	return o
}

// ResolverState is the snapshot handed to state listeners for UI feedback.
// Confirmation must stay disabled while Resolving is true or Err is set.
type ResolverState struct {
	Candidate domain.LocationCandidate
	Resolving bool
	Err       error
}

// LocationResolver owns the client's current location candidate. Repeated
// position changes are debounced, geocode requests are single-flight per
// resolver (a newer settle cancels both the pending timer and the in-flight
// request), and resolver state is only ever updated from the most recent
// request's response.
type LocationResolver struct {
	geocoder  ports.Geocoder
	locator   ports.DeviceLocator
	store     ports.BindingStore
	sessionID string
	opts      ResolverOptions
	log       zerolog.Logger

	mu          sync.Mutex
	candidate   domain.LocationCandidate
	warehouseID string
	resolving   bool
	lastErr     error
	timer       *time.Timer
	cancel      context.CancelFunc
	gen         uint64
	listeners   []func(ResolverState)
}

// NewLocationResolver wires a resolver for one storefront session.
func NewLocationResolver(
	geocoder ports.Geocoder,
	locator ports.DeviceLocator,
	store ports.BindingStore,
	sessionID string,
	opts ResolverOptions,
	log zerolog.Logger,
) *LocationResolver {
	return &LocationResolver{
		geocoder:  geocoder,
		locator:   locator,
		store:     store,
		sessionID: sessionID,
		opts:      opts.orDefault(),
		log:       log.With().Str("session_id", sessionID).Logger(),
	}
}

// OnStateChange registers a listener invoked after every state transition.
// Listeners must not call back into the resolver.
func (r *LocationResolver) OnStateChange(fn func(ResolverState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Candidate returns a snapshot of the current location candidate.
func (r *LocationResolver) Candidate() domain.LocationCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidate
}

// TriggerDeviceLocation requests the platform's location fix and feeds it into
// the same debounced pipeline as manual pin moves. On failure the prior
// candidate is left untouched and a recoverable error is returned so the
// caller can fall back to manual entry.
func (r *LocationResolver) TriggerDeviceLocation(ctx context.Context) error {
	pos, err := r.locator.Current(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("device location failed")
		return fmt.Errorf("trigger device location: %w", domain.ErrLocationUnavailable)
	}
	r.schedule(pos.Lat, pos.Lng, domain.ModeAuto)
	return nil
}

// OnMapMoved is invoked on every intermediate drag frame: the candidate is
// immediately marked as resolving (blocking confirmation) but no backend call
// is made yet.
func (r *LocationResolver) OnMapMoved(lat, lng float64) {
	r.mu.Lock()
	r.candidate = domain.LocationCandidate{
		Coordinates: domain.Coordinates{Lat: lat, Lng: lng},
		Mode:        domain.ModeManual,
	}
	r.warehouseID = ""
	r.resolving = true
	r.lastErr = nil
	r.notifyAndUnlock()
}

// OnMapMoveSettled is invoked once drag motion stops and (re)starts the
// debounce window before the geocode call.
func (r *LocationResolver) OnMapMoveSettled(lat, lng float64) {
	r.schedule(lat, lng, domain.ModeManual)
}

// schedule restarts the debounce timer for the given coordinate, superseding
// any pending or in-flight resolution.
func (r *LocationResolver) schedule(lat, lng float64, mode domain.LocationMode) {
	r.mu.Lock()
	r.candidate = domain.LocationCandidate{
		Coordinates: domain.Coordinates{Lat: lat, Lng: lng},
		Mode:        mode,
	}
	r.warehouseID = ""
	r.resolving = true
	r.lastErr = nil

	if r.timer != nil {
		r.timer.Stop()
	}
	if r.cancel != nil {
		// Abort the superseded request at the transport level rather than
		// merely ignoring its response.
		r.cancel()
		r.cancel = nil
		metrics.GeocodeSupersededTotal.Inc()
	}

	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.opts.Debounce, func() {
		r.resolve(gen, lat, lng)
	})
	r.notifyAndUnlock()
}

// resolve performs the geocode round-trip for generation gen. Responses for a
// superseded generation are discarded on arrival; the generation check also
// guards the window between timer fire and request start.
func (r *LocationResolver) resolve(gen uint64, lat, lng float64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.GeocodeTimeout)
	r.cancel = cancel
	r.mu.Unlock()

	res, err := r.geocoder.Resolve(ctx, lat, lng)
	cancel()

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.cancel = nil
	r.resolving = false

	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("geocode failed")
		r.candidate.IsServiceable = false
		r.lastErr = err
		r.notifyAndUnlock()
		return
	}

	r.candidate.ResolvedAddress = res.Address
	r.candidate.IsServiceable = res.IsServiceable
	r.warehouseID = res.WarehouseID

	if res.IsServiceable {
		metrics.GeocodeRequestsTotal.WithLabelValues("serviceable").Inc()
		r.notifyAndUnlock()
		return
	}

	metrics.GeocodeRequestsTotal.WithLabelValues("not_serviceable").Inc()
	r.notifyAndUnlock()

	// A not-serviceable verdict invalidates any previously stored binding.
	clearCtx, clearCancel := context.WithTimeout(context.Background(), r.opts.GeocodeTimeout)
	defer clearCancel()
	if err := r.store.Clear(clearCtx, r.sessionID); err != nil {
		r.log.Warn().Err(err).Msg("failed to clear stale binding")
	} else {
		metrics.BindingsClearedTotal.Inc()
	}
}

// Confirm commits the current candidate as the session's serviceability
// binding. It is rejected while a resolution is pending and whenever the
// candidate is not serviceable; a binding is never committed from stale or
// unverified coordinates.
func (r *LocationResolver) Confirm(ctx context.Context) (*domain.ServiceabilityBinding, error) {
	r.mu.Lock()
	if r.resolving {
		r.mu.Unlock()
		return nil, domain.ErrResolving
	}
	if !r.candidate.IsServiceable {
		r.mu.Unlock()
		return nil, domain.ErrNotServiceable
	}
	b := domain.ServiceabilityBinding{
		Lat:         r.candidate.Lat,
		Lng:         r.candidate.Lng,
		WarehouseID: r.warehouseID,
	}
	r.mu.Unlock()

	if err := r.store.Save(ctx, r.sessionID, b); err != nil {
		return nil, fmt.Errorf("confirm location: %w", err)
	}
	metrics.BindingsCommittedTotal.Inc()
	r.log.Info().
		Float64("lat", b.Lat).
		Float64("lng", b.Lng).
		Str("warehouse_id", b.WarehouseID).
		Msg("serviceability binding committed")
	return &b, nil
}

// StoredBinding returns the binding committed earlier in this session, used
// by page loads to gate storefront access. Returns domain.ErrNoBinding when
// the session has none.
func (r *LocationResolver) StoredBinding(ctx context.Context) (*domain.ServiceabilityBinding, error) {
	return r.store.Load(ctx, r.sessionID)
}

// ClearBinding removes the session's binding, e.g. on logout.
func (r *LocationResolver) ClearBinding(ctx context.Context) error {
	if err := r.store.Clear(ctx, r.sessionID); err != nil {
		return fmt.Errorf("clear binding: %w", err)
	}
	metrics.BindingsClearedTotal.Inc()
	return nil
}

// notifyAndUnlock snapshots state, releases the lock, and fires listeners.
// Callers must hold r.mu.
func (r *LocationResolver) notifyAndUnlock() {
	state := ResolverState{
		Candidate: r.candidate,
		Resolving: r.resolving,
		Err:       r.lastErr,
	}
	listeners := make([]func(ResolverState), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
