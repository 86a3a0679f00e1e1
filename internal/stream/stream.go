package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// State is the connection lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TickFunc receives live trades for a subscribed symbol.
type TickFunc func(provider.TradeTick)

// controlMessage is the outbound subscribe/unsubscribe frame.
type controlMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// wsConn is the slice of *websocket.Conn the manager uses. Narrowed so
// tests can stand in a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Config wires a Manager together.
type Config struct {
	// URL is the websocket endpoint, token included. Required.
	URL string
	// Cache receives derived quotes from incoming ticks. Optional.
	Cache *cache.Store
	// QuoteType is the cache namespace for the write-back. Required when
	// Cache is set.
	QuoteType *cache.DataType
	// MaxReconnectAttempts bounds the retry ladder. Defaults to 5.
	MaxReconnectAttempts int
	// DialTimeout bounds each reconnect dial. Defaults to 15s.
	DialTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the single live-trade connection: one reader goroutine, a
// symbol to subscriber registry, and an exponential-backoff reconnect
// ladder. When the ladder is exhausted it goes quiet and leaves callers
// on the polling path.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	state    State
	conn     wsConn
	gen      int
	subs     map[string]map[int]TickFunc
	nextSub  int
	attempts int
	closed   bool
	quit     chan struct{}

	// writeMu serializes frames; gorilla conns allow one writer at a time.
	writeMu sync.Mutex

	// test seams
	dial  func(ctx context.Context, url string) (wsConn, error)
	after func(d time.Duration) <-chan time.Time
}

// New creates a Manager. It does not connect; call Connect.
func New(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream: url is required")
	}
	if cfg.Cache != nil && cfg.QuoteType == nil {
		return nil, errors.New("stream: quote type is required when a cache is set")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:   cfg,
		log:   cfg.Logger,
		subs:  make(map[string]map[int]TickFunc),
		dial:  gorillaDial,
		after: func(d time.Duration) <-chan time.Time { return time.After(d) },
	}, nil
}

func gorillaDial(ctx context.Context, url string) (wsConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// State reports the current connection phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the socket and starts the read loop. A failed first dial
// enters the same retry ladder as a dropped connection, so the returned
// error means "not connected yet", not "gave up". No-op unless currently
// disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	m.quit = make(chan struct{})
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		m.log.Warn("stream connect failed", "err", err)
		m.beginReconnect()
		return fmt.Errorf("connecting stream: %w", err)
	}
	m.install(conn)
	return nil
}

// Disconnect closes the socket, clears the registry, and stops any
// reconnect in progress. Idempotent. Connect may be called again later.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed && m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	conn := m.conn
	m.conn = nil
	m.subs = make(map[string]map[int]TickFunc)
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Subscribe registers fn for symbol's live trades and returns its
// revocation. The first subscriber for a symbol puts the subscribe frame
// on the wire; the last revocation sends the unsubscribe.
func (m *Manager) Subscribe(symbol string, fn TickFunc) (cancel func()) {
	sym := provider.NormalizeSymbol(symbol)
	if sym == "" || fn == nil {
		return func() {}
	}

	m.mu.Lock()
	set, ok := m.subs[sym]
	if !ok {
		set = make(map[int]TickFunc)
		m.subs[sym] = set
	}
	id := m.nextSub
	m.nextSub++
	set[id] = fn
	first := len(set) == 1
	connected := m.state == StateConnected
	m.mu.Unlock()

	if first && connected {
		m.send(controlMessage{Type: "subscribe", Symbol: sym})
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sym, id) })
	}
}

func (m *Manager) unsubscribe(sym string, id int) {
	m.mu.Lock()
	set, ok := m.subs[sym]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(set, id)
	last := len(set) == 0
	if last {
		delete(m.subs, sym)
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if last && connected {
		m.send(controlMessage{Type: "unsubscribe", Symbol: sym})
	}
}

// install adopts a freshly dialed connection: resets the retry counter,
// replays subscriptions, and starts the read loop.
func (m *Manager) install(conn wsConn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.attempts = 0
	symbols := make([]string, 0, len(m.subs))
	for sym := range m.subs {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()

	slices.Sort(symbols)
	for _, sym := range symbols {
		m.send(controlMessage{Type: "subscribe", Symbol: sym})
	}
	go m.readLoop(gen, conn)
}

func (m *Manager) send(msg controlMessage) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	err := conn.WriteJSON(msg)
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn("stream write failed", "type", msg.Type, "symbol", msg.Symbol, "err", err)
	}
}

func (m *Manager) beginReconnect() {
	m.mu.Lock()
	if m.closed {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	quit := m.quit
	m.mu.Unlock()
	go m.reconnectLoop(quit)
}

// reconnectLoop retries with 2^attempt second delays until a dial
// succeeds, the attempt budget runs out, or the manager is disconnected.
func (m *Manager) reconnectLoop(quit chan struct{}) {
	for {
		m.mu.Lock()
		if m.closed {
			m.state = StateDisconnected
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.cfg.MaxReconnectAttempts {
			m.state = StateDisconnected
			m.mu.Unlock()
			m.log.Warn("stream reconnect attempts exhausted, continuing in poll-only mode")
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		delay := time.Duration(1<<attempt) * time.Second
		m.log.Info("stream reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-m.after(delay):
		case <-quit:
			return
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		conn, err := m.dial(dialCtx, m.cfg.URL)
		cancel()
		if err != nil {
			m.log.Warn("stream reconnect failed", "attempt", attempt, "err", err)
			continue
		}
		m.install(conn)
		return
	}
}
