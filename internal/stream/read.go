package stream

import (
	"context"
	"encoding/json"

	"quotefeed/internal/provider"
)

// streamMessage is the inbound frame. Only "trade" frames carry data;
// everything else ("ping" and friends) is dropped.
type streamMessage struct {
	Type string        `json:"type"`
	Data []tickPayload `json:"data"`
}

type tickPayload struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

func (m *Manager) readLoop(gen int, conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		m.handleMessage(data)
	}
}

// handleReadError tears the connection down and starts the retry ladder,
// unless the manager was deliberately disconnected or this loop belongs
// to an already-replaced connection.
func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.log.Warn("stream connection lost", "err", err)
	m.beginReconnect()
}

func (m *Manager) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Debug("stream: discarding unparseable message", "err", err)
		return
	}
	if msg.Type != "trade" {
		return
	}
	for _, p := range msg.Data {
		sym := provider.NormalizeSymbol(p.Symbol)
		if sym == "" {
			continue
		}
		tick := provider.TradeTick{
			Symbol:    sym,
			Price:     p.Price,
			Timestamp: p.Timestamp,
			Volume:    p.Volume,
		}
		m.applyTick(tick)
		m.fanOut(sym, tick)
	}
}

// applyTick folds a live trade into the cached quote. Without a cached
// quote there is nothing to derive from, so the tick only reaches
// subscribers.
func (m *Manager) applyTick(tick provider.TradeTick) {
	if m.cfg.Cache == nil {
		return
	}
	key := m.cfg.QuoteType.Key(tick.Symbol)
	v, ok := m.cfg.Cache.Peek(key)
	if !ok {
		return
	}
	prev, ok := v.(*provider.Quote)
	if !ok {
		return
	}

	q := *prev
	q.Price = tick.Price
	q.Timestamp = tick.Timestamp
	if q.PreviousClose != 0 {
		q.Change = tick.Price - q.PreviousClose
		q.ChangePercent = q.Change / q.PreviousClose * 100
	}
	if tick.Price > q.High {
		q.High = tick.Price
	}
	if q.Low == 0 || tick.Price < q.Low {
		q.Low = tick.Price
	}
	m.cfg.Cache.Set(context.Background(), key, &q, m.cfg.QuoteType)
}

func (m *Manager) fanOut(sym string, tick provider.TradeTick) {
	m.mu.Lock()
	set := m.subs[sym]
	fns := make([]TickFunc, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(tick)
	}
}
