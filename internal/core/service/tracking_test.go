package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/quickdash/storefront-core/internal/core/domain"
	"github.com/quickdash/storefront-core/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *stubConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// drop simulates a server-side disconnect.
func (c *stubConn) drop() {
	close(c.frames)
}

type stubDialer struct {
	mu    sync.Mutex
	queue []*stubConn
	err   error
	delay time.Duration
	dials int
}

func (d *stubDialer) Dial(_ context.Context, _, _ string) (ports.SocketConn, error) {
	d.mu.Lock()
	d.dials++
	delay := d.delay
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return nil, errors.New("no connection scripted")
	}
	conn := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()

	// Sleeping outside the lock lets concurrent dials overlap.
	if delay > 0 {
		time.Sleep(delay)
	}
	return conn, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stubOrders struct {
	mu    sync.Mutex
	snap  ports.OrderSnapshot
	err   error
	calls int
}

func (o *stubOrders) Snapshot(_ context.Context, orderID string) (*ports.OrderSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	snap := o.snap
	snap.OrderID = orderID
	return &snap, nil
}

func (o *stubOrders) setStatus(status domain.OrderStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snap.Status = status
}

func (o *stubOrders) setRiderPosition(pos *domain.Coordinates) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snap.RiderPosition = pos
}

type stubSink struct {
	mu      sync.Mutex
	markers []domain.Coordinates
}

func (s *stubSink) SetMarker(lat, lng float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, domain.Coordinates{Lat: lat, Lng: lng})
}

func (s *stubSink) Pan(float64, float64) {}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func (s *stubSink) marker(i int) domain.Coordinates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers[i]
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3}
}

func newManager(dialer *stubDialer, orders *stubOrders) *TrackingManager {
	return NewTrackingManager(dialer, orders, testBackoff(), zerolog.Nop())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBackoff_ZeroFieldsFallBackToDefaults(t *testing.T) {
	if got := (Backoff{}).orDefault(); got != DefaultBackoff {
		t.Fatalf("orDefault() = %+v, want %+v", got, DefaultBackoff)
	}
	custom := Backoff{Base: 5 * time.Millisecond, Max: time.Second, MaxAttempts: 2, DialTimeout: time.Second}
	if got := custom.orDefault(); got != custom {
		t.Fatalf("orDefault() = %+v, want %+v", got, custom)
	}
}

func TestOpen_MissingOrderID(t *testing.T) {
	m := newManager(&stubDialer{}, &stubOrders{})
	if _, err := m.Open(context.Background(), "", "tok"); !errors.Is(err, domain.ErrMissingOrderID) {
		t.Fatalf("expected ErrMissingOrderID, got %v", err)
	}
}

func TestOpen_ExpiredToken(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	dialer := &stubDialer{}
	m := newManager(dialer, &stubOrders{})
	if _, err := m.Open(context.Background(), "ord-1", raw); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if dialer.dialCount() != 0 {
		t.Fatal("expected no dial with an expired token")
	}
}

func TestOpen_TerminalOrderNeverDials(t *testing.T) {
	dialer := &stubDialer{}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusDelivered}}
	m := newManager(dialer, orders)

	_, err := m.Open(context.Background(), "ord-1", "tok")
	if !errors.Is(err, domain.ErrOrderFinished) {
		t.Fatalf("expected ErrOrderFinished, got %v", err)
	}
	if dialer.dialCount() != 0 {
		t.Fatalf("expected no dial for a terminal order, got %d", dialer.dialCount())
	}
}

func TestSession_ForwardsValidFramesInArrivalOrder(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sink := &stubSink{}
	s.AddSink(sink)

	conn.frames <- []byte(`{"lat":12.93,"lng":77.61}`)
	conn.frames <- []byte(`{"lat":12.94,"lng":77.62}`)

	waitFor(t, "two markers", func() bool { return sink.count() == 2 })
	if got := sink.marker(0); got != (domain.Coordinates{Lat: 12.93, Lng: 77.61}) {
		t.Fatalf("first marker = %+v", got)
	}
	if got := sink.marker(1); got != (domain.Coordinates{Lat: 12.94, Lng: 77.62}) {
		t.Fatalf("second marker = %+v", got)
	}
	if pos, ok := s.LastKnownPosition(); !ok || pos.Lat != 12.94 {
		t.Fatalf("last known position = %+v (%v)", pos, ok)
	}
}

func TestSession_DropsMalformedAndPartialFrames(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sink := &stubSink{}
	s.AddSink(sink)

	// Frames are processed in arrival order, so the valid frame arriving last
	// proves the earlier ones were dropped rather than still pending.
	conn.frames <- []byte(`{"lat":12.93}`)
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"lng":77.61}`)
	conn.frames <- []byte(`{"lat":12.93,"lng":77.61}`)

	waitFor(t, "the valid marker", func() bool { return sink.count() >= 1 })
	if sink.count() != 1 {
		t.Fatalf("expected exactly one marker, got %d", sink.count())
	}
	if got := sink.marker(0); got != (domain.Coordinates{Lat: 12.93, Lng: 77.61}) {
		t.Fatalf("marker = %+v", got)
	}
}

func TestSession_MultipleSinksFanOut(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	first, second := &stubSink{}, &stubSink{}
	s.AddSink(first)
	s.AddSink(second)

	conn.frames <- []byte(`{"lat":1,"lng":2}`)
	waitFor(t, "both sinks", func() bool { return first.count() == 1 && second.count() == 1 })
}

func TestSession_SinkPrimedFromSnapshot(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{
		Status:        domain.StatusOutForDelivery,
		RiderPosition: &domain.Coordinates{Lat: 12.9, Lng: 77.6},
	}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sink := &stubSink{}
	s.AddSink(sink)
	if sink.count() != 1 {
		t.Fatalf("expected sink primed with snapshot position, got %d markers", sink.count())
	}
	if got := sink.marker(0); got != (domain.Coordinates{Lat: 12.9, Lng: 77.6}) {
		t.Fatalf("primed marker = %+v", got)
	}
}

func TestOpen_SecondSessionClosesFirst(t *testing.T) {
	conn1, conn2 := newStubConn(), newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn1, conn2}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s1, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	sink1 := &stubSink{}
	s1.AddSink(sink1)

	s2, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	defer s2.Close()

	if !conn1.isClosed() {
		t.Fatal("first connection should be closed before the second session runs")
	}
	if s1.State() != domain.StateClosed {
		t.Fatalf("first session state = %s, want closed", s1.State())
	}

	sink2 := &stubSink{}
	s2.AddSink(sink2)
	conn2.frames <- []byte(`{"lat":3,"lng":4}`)
	waitFor(t, "second session delivery", func() bool { return sink2.count() == 1 })

	// The replaced session must never deliver again.
	if sink1.count() != 0 {
		t.Fatalf("first session delivered %d markers after being replaced", sink1.count())
	}
}

func TestOpen_ConcurrentOpensKeepSingleLiveSession(t *testing.T) {
	conn1, conn2 := newStubConn(), newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn1, conn2}, delay: 50 * time.Millisecond}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	type result struct {
		s   *TrackingSession
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := m.Open(context.Background(), "ord-1", "tok")
			results <- result{s, err}
		}()
	}

	var opened []*TrackingSession
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			if !errors.Is(r.err, domain.ErrSessionClosed) {
				t.Fatalf("unexpected open error: %v", r.err)
			}
			continue
		}
		opened = append(opened, r.s)
	}

	// Judge only after both calls have returned; the loser may have been
	// handed out before the winner replaced it.
	live := 0
	for _, s := range opened {
		if s.State() != domain.StateClosed {
			live++
			defer s.Close()
		}
	}
	if live != 1 {
		t.Fatalf("live sessions = %d, want 1", live)
	}

	m.mu.Lock()
	registered := len(m.sessions)
	m.mu.Unlock()
	if registered != 1 {
		t.Fatalf("registered sessions = %d, want 1", registered)
	}

	open := 0
	for _, c := range []*stubConn{conn1, conn2} {
		if !c.isClosed() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("open connections = %d, want 1", open)
	}
}

func TestSession_ReconnectResyncsFromSnapshot(t *testing.T) {
	conn1, conn2 := newStubConn(), newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn1, conn2}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sink := &stubSink{}
	s.AddSink(sink)

	// Position moved while the channel was down; the resync snapshot carries it.
	orders.setRiderPosition(&domain.Coordinates{Lat: 12.95, Lng: 77.65})
	conn1.drop()

	waitFor(t, "resynced position", func() bool { return sink.count() >= 1 })
	if got := sink.marker(0); got != (domain.Coordinates{Lat: 12.95, Lng: 77.65}) {
		t.Fatalf("resync marker = %+v", got)
	}
	waitFor(t, "reconnect", func() bool { return s.State() == domain.StateConnected })

	// The new connection keeps streaming.
	conn2.frames <- []byte(`{"lat":12.96,"lng":77.66}`)
	waitFor(t, "post-reconnect frame", func() bool { return sink.count() == 2 })
}

func TestSession_DroppedConnectionReleasedBeforeReconnect(t *testing.T) {
	conn1, conn2 := newStubConn(), newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn1, conn2}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	conn1.drop()
	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() == 2 && s.State() == domain.StateConnected
	})

	if !conn1.isClosed() {
		t.Fatal("dropped connection was not closed when its replacement took over")
	}
	if conn2.isClosed() {
		t.Fatal("replacement connection should still be open")
	}
}

func TestSession_TerminalStatusDuringOutageEndsSession(t *testing.T) {
	conn1, conn2 := newStubConn(), newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn1, conn2}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	orders.setStatus(domain.StatusDelivered)
	conn1.drop()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after terminal status")
	}
	if s.State() != domain.StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	if !conn2.isClosed() {
		t.Fatal("replacement connection should have been closed")
	}
}

func TestSession_ReconnectExhaustedSurfacesHardFailure(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var mu sync.Mutex
	var states []domain.ConnectionState
	s.OnStateChange(func(st domain.ConnectionState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	// All further dials fail; the queue is empty.
	conn.drop()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not give up after exhausting retries")
	}

	// Initial dial + MaxAttempts failed reconnects.
	if got := dialer.dialCount(); got != 1+testBackoff().MaxAttempts {
		t.Fatalf("dials = %d, want %d", got, 1+testBackoff().MaxAttempts)
	}

	mu.Lock()
	final := states[len(states)-1]
	mu.Unlock()
	if final != domain.StateClosed {
		t.Fatalf("final observed state = %s, want closed", final)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	conn := newStubConn()
	dialer := &stubDialer{queue: []*stubConn{conn}}
	orders := &stubOrders{snap: ports.OrderSnapshot{Status: domain.StatusOutForDelivery}}
	m := newManager(dialer, orders)

	s, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.Close()
	s.Close()
	if s.State() != domain.StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}

	// A session can be reopened with a fresh Open after an explicit close.
	dialer.mu.Lock()
	dialer.queue = append(dialer.queue, newStubConn())
	dialer.mu.Unlock()
	s2, err := m.Open(context.Background(), "ord-1", "tok")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}
