package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// fakeConn feeds scripted frames to the read loop and records outbound
// control messages.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	writes  []controlMessage
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("use of closed network connection")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	msg, ok := v.(controlMessage)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", v)
	}
	c.mu.Lock()
	c.writes = append(c.writes, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) push(data string) {
	c.inbound <- []byte(data)
}

func (c *fakeConn) sent() []controlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlMessage, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// dialRecorder hands out fake connections and counts dials.
type dialRecorder struct {
	mu    sync.Mutex
	calls int
	conns []*fakeConn
	err   error
}

func (d *dialRecorder) dial(context.Context, string) (wsConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *dialRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *dialRecorder) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// recordedAfter notes each requested delay and fires it immediately.
type recordedAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedAfter) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (r *recordedAfter) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func newTestManager(t *testing.T, d *dialRecorder, mutate ...func(*Config)) (*Manager, *recordedAfter) {
	t.Helper()
	cfg := Config{URL: "wss://stream.example/ws?token=test"}
	for _, m := range mutate {
		m(&cfg)
	}
	mgr, err := New(cfg)
	require.NoError(t, err)
	mgr.dial = d.dial
	ra := &recordedAfter{}
	mgr.after = ra.after
	t.Cleanup(mgr.Disconnect)
	return mgr, ra
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	// Act:
	_, err := New(Config{})

	// Assert:
	require.Error(t, err)
}

func TestConnect_ReplaysSubscriptions(t *testing.T) {
	t.Parallel()

	// Arrange: subscriptions registered before the socket exists.
	d := &dialRecorder{}
	mgr, _ := newTestManager(t, d)
	mgr.Subscribe("msft", func(provider.TradeTick) {})
	mgr.Subscribe("aapl", func(provider.TradeTick) {})

	// Act:
	err := mgr.Connect(t.Context())

	// Assert: both symbols go on the wire in one pass, sorted.
	require.NoError(t, err)
	require.Equal(t, StateConnected, mgr.State())
	require.Equal(t, []controlMessage{
		{Type: "subscribe", Symbol: "AAPL"},
		{Type: "subscribe", Symbol: "MSFT"},
	}, d.conn(0).sent())

	// Act: connecting again is a no-op.
	require.NoError(t, mgr.Connect(t.Context()))
	require.Equal(t, 1, d.count())
}

func TestTrade_FanOutAndCacheWriteBack(t *testing.T) {
	t.Parallel()

	// Arrange: a cached quote to derive from and one subscriber.
	store := cache.New(cache.Options{})
	qt := &cache.DataType{Name: "quote", TTL: 30 * time.Second}
	store.Set(t.Context(), qt.Key("AAPL"), &provider.Quote{
		Symbol:        "AAPL",
		Price:         190,
		PreviousClose: 190,
		High:          191,
		Low:           189.5,
		Open:          190.2,
		Volume:        1000,
		Timestamp:     1,
	}, qt)

	d := &dialRecorder{}
	mgr, _ := newTestManager(t, d, func(c *Config) {
		c.Cache = store
		c.QuoteType = qt
	})
	var mu sync.Mutex
	var ticks []provider.TradeTick
	mgr.Subscribe("aapl", func(tk provider.TradeTick) {
		mu.Lock()
		ticks = append(ticks, tk)
		mu.Unlock()
	})
	require.NoError(t, mgr.Connect(t.Context()))
	conn := d.conn(0)

	// Act: junk and pings are dropped, the trade goes through.
	conn.push(`this is not json`)
	conn.push(`{"type":"ping"}`)
	conn.push(`{"type":"trade","data":[` +
		`{"s":"AAPL","p":195.5,"t":1716555600000,"v":120},` +
		`{"s":"TSLA","p":250,"t":1716555600500,"v":10}]}`)

	// Assert: the subscriber saw exactly the AAPL tick.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	tick := ticks[0]
	mu.Unlock()
	require.Equal(t, provider.TradeTick{
		Symbol:    "AAPL",
		Price:     195.5,
		Timestamp: 1716555600000,
		Volume:    120,
	}, tick)

	// Assert: the cached quote was re-derived from the tick.
	got, ok := cache.GetAs[*provider.Quote](t.Context(), store, qt.Key("AAPL"), qt)
	require.True(t, ok)
	require.Equal(t, 195.5, got.Price)
	require.Equal(t, 5.5, got.Change)
	require.InDelta(t, 2.8947, got.ChangePercent, 0.001)
	require.Equal(t, 195.5, got.High)
	require.Equal(t, 189.5, got.Low)
	require.Equal(t, int64(1716555600000), got.Timestamp)

	// Assert: a tick with no cached quote writes nothing.
	_, ok = cache.GetAs[*provider.Quote](t.Context(), store, qt.Key("TSLA"), qt)
	require.False(t, ok)
}

func TestSubscribe_ControlFrames(t *testing.T) {
	t.Parallel()

	// Arrange:
	d := &dialRecorder{}
	mgr, _ := newTestManager(t, d)
	require.NoError(t, mgr.Connect(t.Context()))
	conn := d.conn(0)

	// Act: two subscribers on one symbol.
	cancel1 := mgr.Subscribe("MSFT", func(provider.TradeTick) {})
	cancel2 := mgr.Subscribe("MSFT", func(provider.TradeTick) {})

	// Assert: only the first subscription hits the wire.
	require.Equal(t, []controlMessage{{Type: "subscribe", Symbol: "MSFT"}}, conn.sent())

	// Act: dropping the first subscriber keeps the wire quiet, dropping
	// the last sends the unsubscribe. Re-cancelling does nothing.
	cancel1()
	require.Len(t, conn.sent(), 1)
	cancel2()
	cancel2()

	// Assert:
	require.Equal(t, []controlMessage{
		{Type: "subscribe", Symbol: "MSFT"},
		{Type: "unsubscribe", Symbol: "MSFT"},
	}, conn.sent())
}

func TestReconnect_ResubscribesAfterDrop(t *testing.T) {
	t.Parallel()

	// Arrange:
	d := &dialRecorder{}
	mgr, ra := newTestManager(t, d)
	mgr.Subscribe("AAPL", func(provider.TradeTick) {})
	require.NoError(t, mgr.Connect(t.Context()))

	// Act: the connection drops.
	d.conn(0).Close()

	// Assert: one backoff step, a fresh dial, subscriptions replayed.
	require.Eventually(t, func() bool {
		return d.count() == 2 && mgr.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []time.Duration{2 * time.Second}, ra.recorded())
	require.Equal(t, []controlMessage{{Type: "subscribe", Symbol: "AAPL"}}, d.conn(1).sent())
	mgr.mu.Lock()
	attempts := mgr.attempts
	mgr.mu.Unlock()
	require.Equal(t, 0, attempts)
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	// Arrange: every dial fails.
	d := &dialRecorder{err: errors.New("connection refused")}
	mgr, ra := newTestManager(t, d, func(c *Config) {
		c.MaxReconnectAttempts = 3
	})

	// Act:
	err := mgr.Connect(t.Context())

	// Assert: the first failure reports back and the ladder runs dry
	// with doubling delays.
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return mgr.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, ra.recorded())
	require.Equal(t, 4, d.count())
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	// Arrange:
	d := &dialRecorder{}
	mgr, _ := newTestManager(t, d)
	mgr.Subscribe("AAPL", func(provider.TradeTick) {})
	require.NoError(t, mgr.Connect(t.Context()))

	// Act:
	mgr.Disconnect()
	mgr.Disconnect()

	// Assert: socket closed, registry cleared, no reconnect attempted.
	require.Equal(t, StateDisconnected, mgr.State())
	require.True(t, d.conn(0).isClosed())
	mgr.mu.Lock()
	subs := len(mgr.subs)
	mgr.mu.Unlock()
	require.Equal(t, 0, subs)
	require.Never(t, func() bool { return d.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	// Act: an explicit reconnect works again.
	require.NoError(t, mgr.Connect(t.Context()))

	// Assert:
	require.Equal(t, StateConnected, mgr.State())
	require.Equal(t, 2, d.count())
}
