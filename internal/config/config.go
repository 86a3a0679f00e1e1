package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"
)

type Server struct {
    Port              string `json:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Finnhub struct {
    BaseURL              string `json:"base_url"`
    APIKey               string `json:"api_key"`
    WSURL                string `json:"ws_url"`
    MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
    MinRequestIntervalMs int    `json:"min_request_interval_ms"`
    BatchThreshold       int    `json:"batch_threshold"`
    StaggerDelayMs       int    `json:"stagger_delay_ms"`
    RefreshTimeoutSec    int    `json:"refresh_timeout_sec"`
}

type Cache struct {
    MaxEntries        int `json:"max_entries"`
    MaxDurableEntries int `json:"max_durable_entries"`
}

// Store selects the durable cache tier: "file", "redis" or "off".
type Store struct {
    Backend       string `json:"backend"`
    Dir           string `json:"dir"`
    RedisAddr     string `json:"redis_addr"`
    RedisPassword string `json:"redis_password"`
    RedisDB       int    `json:"redis_db"`
    RedisPrefix   string `json:"redis_prefix"`
}

type Stream struct {
    Enabled              bool `json:"enabled"`
    MaxReconnectAttempts int  `json:"max_reconnect_attempts"`
    DialTimeoutSec       int  `json:"dial_timeout_sec"`
}

type Config struct {
    Server  Server  `json:"server"`
    Finnhub Finnhub `json:"finnhub"`
    Cache   Cache   `json:"cache"`
    Store   Store   `json:"store"`
    Stream  Stream  `json:"stream"`
}

// IsConfigured reports whether an upstream base URL is present. Without one
// the whole market-data layer stays disabled and every fetch fails fast.
func (c Config) IsConfigured() bool { return c.Finnhub.BaseURL != "" }

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 10},
        Finnhub: Finnhub{
            BaseURL:              "",
            WSURL:                "wss://ws.finnhub.io",
            MaxRequestsPerMinute: 60,
            MinRequestIntervalMs: 1000,
            BatchThreshold:       2,
            StaggerDelayMs:       200,
            RefreshTimeoutSec:    15,
        },
        Cache: Cache{MaxEntries: 500, MaxDurableEntries: 100},
        Store: Store{
            Backend:     "file",
            Dir:         "data/cache",
            RedisAddr:   "localhost:6379",
            RedisPrefix: "quotefeed:",
        },
        Stream: Stream{Enabled: true, MaxReconnectAttempts: 5, DialTimeoutSec: 15},
    }
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := json.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    return cfg, nil
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }
    if v := os.Getenv("FINNHUB_BASE_URL"); v != "" { cfg.Finnhub.BaseURL = v }
    if v := os.Getenv("FINNHUB_API_KEY"); v != "" { cfg.Finnhub.APIKey = v }
    if v := os.Getenv("FINNHUB_WS_URL"); v != "" { cfg.Finnhub.WSURL = v }
    if v := os.Getenv("FINNHUB_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Finnhub.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("FINNHUB_MIN_INTERVAL_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Finnhub.MinRequestIntervalMs = x }
    }
    if v := os.Getenv("FINNHUB_BATCH_THRESHOLD"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Finnhub.BatchThreshold = x }
    }
    if v := os.Getenv("FINNHUB_STAGGER_DELAY_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Finnhub.StaggerDelayMs = x }
    }
    if v := os.Getenv("FINNHUB_REFRESH_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Finnhub.RefreshTimeoutSec = x }
    }
    if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Cache.MaxEntries = x }
    }
    if v := os.Getenv("CACHE_MAX_DURABLE_ENTRIES"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Cache.MaxDurableEntries = x }
    }
    if v := os.Getenv("STORE_BACKEND"); v != "" { cfg.Store.Backend = strings.ToLower(v) }
    if v := os.Getenv("STORE_DIR"); v != "" { cfg.Store.Dir = v }
    if v := os.Getenv("REDIS_ADDR"); v != "" { cfg.Store.RedisAddr = v }
    if v := os.Getenv("REDIS_PASSWORD"); v != "" { cfg.Store.RedisPassword = v }
    if v := os.Getenv("REDIS_DB"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Store.RedisDB = x }
    }
    if v := os.Getenv("REDIS_PREFIX"); v != "" { cfg.Store.RedisPrefix = v }
    if v := os.Getenv("STREAM_ENABLED"); v != "" {
        switch strings.ToLower(v) {
        case "1","true","yes","y": cfg.Stream.Enabled = true
        case "0","false","no","n": cfg.Stream.Enabled = false
        }
    }
    if v := os.Getenv("STREAM_MAX_RECONNECT_ATTEMPTS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Stream.MaxReconnectAttempts = x }
    }
    if v := os.Getenv("STREAM_DIAL_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Stream.DialTimeoutSec = x }
    }
}
