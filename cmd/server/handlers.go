package main

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"
    "strings"
    "sync"

    "github.com/gorilla/websocket"

    "quotefeed/internal/cache"
    "quotefeed/internal/provider"
    "quotefeed/internal/quotes"
    "quotefeed/internal/ratelimit"
    "quotefeed/internal/stream"
)

const maxBatchSymbols = 100

type apiServer struct {
    svc     *quotes.Service
    stream  *stream.Manager
    cache   *cache.Store
    limiter *ratelimit.Limiter
    log     *slog.Logger
}

type errorResponse struct {
    Error string `json:"error"`
}

type healthResponse struct {
    Status     string          `json:"status"`
    Configured bool            `json:"configured"`
    Stream     string          `json:"stream"`
    Cache      cache.Stats     `json:"cache"`
    Limiter    ratelimit.Stats `json:"limiter"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func (a *apiServer) writeError(w http.ResponseWriter, err error) {
    switch {
    case errors.Is(err, provider.ErrNotConfigured):
        writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "market data not configured"})
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
    default:
        writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
    }
}

func (a *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
    resp := healthResponse{
        Status:     "ok",
        Configured: a.svc.IsConfigured(),
        Stream:     "disabled",
        Cache:      a.cache.Stats(),
        Limiter:    a.limiter.Stats(),
    }
    if a.stream != nil { resp.Stream = a.stream.State().String() }
    writeJSON(w, http.StatusOK, resp)
}

func (a *apiServer) handleQuote(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    symbol := strings.TrimPrefix(r.URL.Path, "/api/quote/")
    if strings.TrimSpace(symbol) == "" {
        writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbol"})
        return
    }
    var (
        q   *provider.Quote
        err error
    )
    if r.URL.Query().Get("refresh") == "1" {
        q, err = a.svc.RefreshQuote(r.Context(), symbol)
    } else {
        q, err = a.svc.GetQuote(r.Context(), symbol)
    }
    if err != nil {
        a.writeError(w, err)
        return
    }
    if q == nil {
        writeJSON(w, http.StatusNotFound, errorResponse{Error: "Stock data not found"})
        return
    }
    writeJSON(w, http.StatusOK, q)
}

func (a *apiServer) handleQuotes(w http.ResponseWriter, r *http.Request) {
    var symbols []string
    switch r.Method {
    case http.MethodGet:
        raw := r.URL.Query().Get("symbols")
        if strings.TrimSpace(raw) == "" {
            writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbols query param"})
            return
        }
        symbols = splitCSV(raw)
    case http.MethodPost:
        var b postBody
        dec := json.NewDecoder(r.Body)
        dec.DisallowUnknownFields()
        if err := dec.Decode(&b); err != nil {
            writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
            return
        }
        symbols = b.Symbols
    default:
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    if len(symbols) == 0 {
        writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbols cannot be empty"})
        return
    }
    if len(symbols) > maxBatchSymbols {
        writeJSON(w, http.StatusBadRequest, errorResponse{Error: "too many symbols (max 100)"})
        return
    }
    out, err := a.svc.GetQuotes(r.Context(), symbols)
    if err != nil {
        a.writeError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, out)
}

type postBody struct {
    Symbols []string `json:"symbols"`
}

func (a *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    query := r.URL.Query().Get("q")
    if strings.TrimSpace(query) == "" {
        writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing q query param"})
        return
    }
    res, err := a.svc.Search(r.Context(), query)
    if err != nil {
        a.writeError(w, err)
        return
    }
    if res == nil {
        writeJSON(w, http.StatusBadGateway, errorResponse{Error: "search unavailable"})
        return
    }
    writeJSON(w, http.StatusOK, res)
}

func (a *apiServer) handleProfile(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    symbol := strings.TrimPrefix(r.URL.Path, "/api/profile/")
    if strings.TrimSpace(symbol) == "" {
        writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbol"})
        return
    }
    p, err := a.svc.CompanyProfile(r.Context(), symbol)
    if err != nil {
        a.writeError(w, err)
        return
    }
    if p == nil {
        writeJSON(w, http.StatusNotFound, errorResponse{Error: "profile not available"})
        return
    }
    writeJSON(w, http.StatusOK, p)
}

var upgrader = websocket.Upgrader{
    ReadBufferSize:  1024,
    WriteBufferSize: 1024,
    CheckOrigin:     func(*http.Request) bool { return true },
}

type tradeFrame struct {
    Type string               `json:"type"`
    Data []provider.TradeTick `json:"data"`
}

type clientFrame struct {
    Type   string `json:"type"`
    Symbol string `json:"symbol"`
}

// handleStream bridges a browser websocket onto the upstream trade stream.
// The client picks symbols with ?symbols= on connect and can adjust the set
// later with {"type":"subscribe","symbol":...} frames.
func (a *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
    if a.stream == nil {
        http.Error(w, "stream disabled", http.StatusServiceUnavailable)
        return
    }
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        a.log.Warn("websocket upgrade failed", "err", err)
        return
    }
    defer conn.Close()

    // Ticks for different symbols arrive on the same upstream read loop,
    // but the mutex keeps writes safe if that ever changes.
    var writeMu sync.Mutex
    cancels := make(map[string]func())
    defer func() {
        for _, cancel := range cancels { cancel() }
    }()

    subscribe := func(symbol string) {
        sym := provider.NormalizeSymbol(symbol)
        if sym == "" { return }
        if _, ok := cancels[sym]; ok { return }
        cancels[sym] = a.stream.Subscribe(sym, func(tick provider.TradeTick) {
            writeMu.Lock()
            defer writeMu.Unlock()
            _ = conn.WriteJSON(tradeFrame{Type: "trade", Data: []provider.TradeTick{tick}})
        })
    }
    for _, sym := range splitCSV(r.URL.Query().Get("symbols")) {
        subscribe(sym)
    }

    for {
        var msg clientFrame
        if err := conn.ReadJSON(&msg); err != nil {
            return
        }
        switch msg.Type {
        case "subscribe":
            subscribe(msg.Symbol)
        case "unsubscribe":
            sym := provider.NormalizeSymbol(msg.Symbol)
            if cancel, ok := cancels[sym]; ok {
                cancel()
                delete(cancels, sym)
            }
        }
    }
}
