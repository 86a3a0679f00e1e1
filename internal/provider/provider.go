package provider

import (
    "context"
    "strings"
)

// Quote is the normalized snapshot shape returned by the acquisition layer.
// Raw upstream payloads are always mapped into this before caching or
// returning. Timestamp is epoch milliseconds.
type Quote struct {
    Symbol        string  `json:"symbol"`
    Price         float64 `json:"price"`
    Change        float64 `json:"change"`
    ChangePercent float64 `json:"changePercent"`
    High          float64 `json:"high"`
    Low           float64 `json:"low"`
    Open          float64 `json:"open"`
    PreviousClose float64 `json:"previousClose"`
    Volume        int64   `json:"volume"`
    Timestamp     int64   `json:"timestamp"`
}

// SymbolMatch is one hit from a symbol search.
type SymbolMatch struct {
    Symbol        string `json:"symbol"`
    Description   string `json:"description"`
    DisplaySymbol string `json:"displaySymbol"`
    Type          string `json:"type"`
}

// SearchResult is the full search response.
type SearchResult struct {
    Count  int           `json:"count"`
    Result []SymbolMatch `json:"result"`
}

// CompanyProfile holds the descriptive fields for a listed company.
type CompanyProfile struct {
    Name              string  `json:"name"`
    Ticker            string  `json:"ticker"`
    Exchange          string  `json:"exchange"`
    Country           string  `json:"country"`
    Currency          string  `json:"currency"`
    Industry          string  `json:"industry"`
    IPO               string  `json:"ipo"`
    MarketCap         float64 `json:"marketCapitalization"`
    SharesOutstanding float64 `json:"shareOutstanding"`
    Logo              string  `json:"logo"`
    WebURL            string  `json:"weburl"`
}

// TradeTick is a single real-time trade received over the stream.
type TradeTick struct {
    Symbol    string  `json:"symbol"`
    Price     float64 `json:"price"`
    Timestamp int64   `json:"timestamp"`
    Volume    float64 `json:"volume"`
}

// BatchItem is one entry of a batch quote response. Exactly one of
// Quote/Err is set; a failed symbol carries its own error so it never
// poisons the rest of the batch.
type BatchItem struct {
    Quote *Quote
    Err   error
}

// Provider is the upstream quote source consumed by the coordinator.
type Provider interface {
    Name() string
    Quote(ctx context.Context, symbol string) (*Quote, error)
    Quotes(ctx context.Context, symbols []string) (map[string]BatchItem, error)
    Search(ctx context.Context, query string) (*SearchResult, error)
    Profile(ctx context.Context, symbol string) (*CompanyProfile, error)
}

// NormalizeSymbol trims and uppercases a ticker symbol. All map keys and
// cache keys use the normalized form.
func NormalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
