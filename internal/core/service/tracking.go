package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quickdash/storefront-core/internal/api/metrics"
	"github.com/quickdash/storefront-core/internal/core/domain"
	"github.com/quickdash/storefront-core/internal/core/ports"
	"github.com/quickdash/storefront-core/internal/pkg/token"
)

// Backoff controls the reconnect behaviour of a tracking session. After every
// dropped connection the session waits Base, doubling up to Max, and gives up
// for good once MaxAttempts consecutive attempts have failed.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// DialTimeout bounds each reconnect dial plus its resync snapshot.
	DialTimeout time.Duration
}

// DefaultBackoff is used when a zero Backoff is supplied.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 8,
	DialTimeout: 15 * time.Second,
}

func (b Backoff) orDefault() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	if b.DialTimeout <= 0 {
		b.DialTimeout = DefaultBackoff.DialTimeout
	}
	return b
}

// delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) delay(n int) time.Duration {
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// TrackingManager hands out tracking sessions and enforces the single-socket
// invariant: at most one live connection exists per order id at any time.
type TrackingManager struct {
	dialer  ports.SocketDialer
	orders  ports.OrderLookup
	backoff Backoff
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*TrackingSession
}

// NewTrackingManager creates a TrackingManager.
func NewTrackingManager(dialer ports.SocketDialer, orders ports.OrderLookup, backoff Backoff, log zerolog.Logger) *TrackingManager {
	return &TrackingManager{
		dialer:   dialer,
		orders:   orders,
		backoff:  backoff.orDefault(),
		log:      log,
		sessions: make(map[string]*TrackingSession),
	}
}

// Open establishes a live tracking channel for the given order. Any existing
// session for the same order is closed before the new one connects. An empty
// order id is reported as an error so the caller can redirect to the order
// list instead of attempting a connection.
func (m *TrackingManager) Open(ctx context.Context, orderID, authToken string) (*TrackingSession, error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	if token.Expired(authToken, time.Now()) {
		return nil, domain.ErrTokenExpired
	}

	s := &TrackingSession{
		orderID: orderID,
		token:   authToken,
		manager: m,
		done:    make(chan struct{}),
		state:   domain.StateConnecting,
		log:     m.log.With().Str("order_id", orderID).Logger(),
	}

	// Register before dialing. A concurrent Open for the same order swaps
	// the map entry under m.mu and closes the predecessor, so two racing
	// calls can never both end up connected.
	m.mu.Lock()
	prev := m.sessions[orderID]
	m.sessions[orderID] = s
	m.mu.Unlock()
	metrics.SessionsOpen.Inc()
	if prev != nil {
		prev.Close()
	}

	// Initial REST snapshot: a terminal order never gets a socket.
	snap, err := m.orders.Snapshot(ctx, orderID)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open tracking: %w", err)
	}
	if snap.Status.IsTerminal() {
		s.Close()
		return nil, fmt.Errorf("open tracking: %w", domain.ErrOrderFinished)
	}
	if snap.RiderPosition != nil {
		pos := *snap.RiderPosition
		s.mu.Lock()
		s.lastPos = &pos
		s.mu.Unlock()
	}

	conn, err := m.dialer.Dial(ctx, orderID, authToken)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open tracking: dial: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("open tracking: %w", domain.ErrSessionClosed)
	}
	s.conn = conn
	s.state = domain.StateConnected
	s.mu.Unlock()

	s.log.Info().Msg("tracking session opened")

	go s.run()
	return s, nil
}

// remove unregisters a session; only the exact instance is removed so a
// replacement session for the same order is never evicted by its predecessor.
func (m *TrackingManager) remove(s *TrackingSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.orderID]; ok && cur == s {
		delete(m.sessions, s.orderID)
	}
}

// CloseAll closes every live session. Used on shutdown and logout.
func (m *TrackingManager) CloseAll() {
	m.mu.Lock()
	open := make([]*TrackingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}

// TrackingSession owns a single tracking channel for one order, normalizes
// inbound position frames and republishes them to registered sinks in strict
// arrival order. Malformed frames and frames missing a coordinate are counted
// and dropped without ever reaching a sink.
type TrackingSession struct {
	orderID string
	token   string
	manager *TrackingManager
	log     zerolog.Logger
	done    chan struct{}

	mu       sync.Mutex
	conn     ports.SocketConn
	state    domain.ConnectionState
	lastPos  *domain.Coordinates
	sinks    []ports.MapSink
	watchers []func(domain.ConnectionState)
	closed   bool
}

// OrderID returns the immutable order id this session tracks.
func (s *TrackingSession) OrderID() string { return s.orderID }

// Done is closed when the session has fully shut down, whether by an explicit
// Close, a terminal order status, or exhausted reconnect attempts.
func (s *TrackingSession) Done() <-chan struct{} { return s.done }

// State returns the current connection state.
func (s *TrackingSession) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastKnownPosition returns the most recent rider position, if any. It is
// updated only by inbound position events and REST resyncs.
func (s *TrackingSession) LastKnownPosition() (domain.Coordinates, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPos == nil {
		return domain.Coordinates{}, false
	}
	return *s.lastPos, true
}

// AddSink registers a position sink. Registration is non-exclusive: every sink
// receives every validated event. When a position is already known the sink is
// primed with it immediately. Sinks are invoked inline on the frame loop and
// must not block.
func (s *TrackingSession) AddSink(sink ports.MapSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
	if s.lastPos != nil {
		sink.SetMarker(s.lastPos.Lat, s.lastPos.Lng)
		sink.Pan(s.lastPos.Lat, s.lastPos.Lng)
	}
}

// OnStateChange registers a connection-state watcher, called on every
// transition including the terminal close. Watchers must not block.
func (s *TrackingSession) OnStateChange(fn func(domain.ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Close tears the session down. It is idempotent and safe to call on a
// session whose connection has already dropped.
func (s *TrackingSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.setStateLocked(domain.StateClosed)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.manager.remove(s)
	metrics.SessionsOpen.Dec()
	s.log.Info().Msg("tracking session closed")
}

// run owns the connection for the session's lifetime: it pumps frames until
// the socket drops, then drives the reconnect state machine.
func (s *TrackingSession) run() {
	for {
		s.readFrames()

		// Release the dropped connection before re-dialing so a failed
		// socket never lingers behind its replacement.
		s.mu.Lock()
		dead := s.conn
		s.conn = nil
		s.mu.Unlock()
		if dead != nil {
			_ = dead.Close()
		}

		if s.isClosed() {
			return
		}
		s.setState(domain.StateDisconnected)
		if !s.reconnect() {
			s.Close()
			return
		}
	}
}

func (s *TrackingSession) readFrames() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log.Warn().Err(err).Msg("tracking channel dropped")
			}
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame processes one inbound frame in arrival order. Unparseable or
// coordinate-incomplete frames are treated as expected noise: counted, logged
// at debug, and never surfaced to a sink.
func (s *TrackingSession) handleFrame(data []byte) {
	ev, err := domain.DecodePositionFrame(data)
	if err != nil {
		reason := "parse_error"
		if errors.Is(err, domain.ErrPartialPosition) {
			reason = "missing_coords"
		}
		metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
		s.log.Debug().Str("reason", reason).Msg("dropped tracking frame")
		return
	}
	s.deliver(ev.Coords())
}

// deliver updates lastKnownPosition and fans the event out to every sink.
// Holding the lock across the fan-out guarantees that once Close returns, no
// sink receives anything further from this session.
func (s *TrackingSession) deliver(pos domain.Coordinates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastPos = &pos
	for _, sink := range s.sinks {
		sink.SetMarker(pos.Lat, pos.Lng)
		sink.Pan(pos.Lat, pos.Lng)
	}
	metrics.FramesForwardedTotal.Inc()
}

// reconnect re-dials with exponential backoff. On success the session
// resynchronizes against a fresh REST snapshot, since frames missed during
// the outage are permanently lost. Returns false when the session should not
// continue (explicit close, terminal order, or retries exhausted).
func (s *TrackingSession) reconnect() bool {
	backoff := s.manager.backoff
	for attempt := 1; attempt <= backoff.MaxAttempts; attempt++ {
		select {
		case <-s.done:
			return false
		case <-time.After(backoff.delay(attempt)):
		}

		s.setState(domain.StateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), backoff.DialTimeout)
		conn, err := s.manager.dialer.Dial(ctx, s.orderID, s.token)
		if err != nil {
			cancel()
			metrics.ReconnectsTotal.WithLabelValues("failed").Inc()
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			s.setState(domain.StateDisconnected)
			continue
		}

		snap, err := s.manager.orders.Snapshot(ctx, s.orderID)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("resync snapshot failed")
		} else if snap.Status.IsTerminal() {
			_ = conn.Close()
			s.log.Info().Str("status", string(snap.Status)).Msg("order finished during outage")
			return false
		} else if snap.RiderPosition != nil {
			s.deliver(*snap.RiderPosition)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.setStateLocked(domain.StateConnected)
		s.mu.Unlock()

		metrics.ReconnectsTotal.WithLabelValues("ok").Inc()
		s.log.Info().Int("attempt", attempt).Msg("tracking channel reconnected")
		return true
	}

	s.log.Error().Int("attempts", backoff.MaxAttempts).Msg("reconnect attempts exhausted")
	return false
}

func (s *TrackingSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *TrackingSession) setState(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state)
}

func (s *TrackingSession) setStateLocked(state domain.ConnectionState) {
	if s.state == state {
		return
	}
	s.state = state
	for _, fn := range s.watchers {
		fn(state)
	}
}
