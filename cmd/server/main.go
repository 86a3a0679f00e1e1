package main

import (
    "context"
    "errors"
    "log"
    "log/slog"
    "net/http"
    "net/url"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"
    "compress/gzip"
    "io"
    "sync"

    "github.com/joho/godotenv"
    "golang.org/x/sync/errgroup"

    "quotefeed/internal/cache"
    "quotefeed/internal/config"
    "quotefeed/internal/httpx"
    "quotefeed/internal/kvstore"
    "quotefeed/internal/provider"
    "quotefeed/internal/provider/finnhub"
    "quotefeed/internal/quotes"
    "quotefeed/internal/ratelimit"
    "quotefeed/internal/stream"
)

func main() {
    // A missing .env file is fine; real deployments set the environment.
    _ = godotenv.Load()

    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatalf("config: %v", err) }
    port := cfg.Server.Port

    logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
    slog.SetDefault(logger)

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    store := openStore(cfg.Store)
    cacheStore := cache.New(cache.Options{
        MaxEntries:        cfg.Cache.MaxEntries,
        MaxDurableEntries: cfg.Cache.MaxDurableEntries,
        Durable:           store,
        Logger:            logger,
    })
    limiter := ratelimit.New(ratelimit.Options{
        CallsPerMinute: cfg.Finnhub.MaxRequestsPerMinute,
        MinInterval:    time.Duration(cfg.Finnhub.MinRequestIntervalMs) * time.Millisecond,
    })

    var prov provider.Provider
    if cfg.IsConfigured() {
        fh, err := finnhub.New(cfg.Finnhub.BaseURL, cfg.Finnhub.APIKey, finnhub.WithHTTPClient(httpClient))
        if err != nil {
            log.Printf("finnhub client error: %v", err)
        } else {
            prov = fh
        }
    } else {
        log.Println("warning: FINNHUB_BASE_URL not set; serving without market data")
    }

    var mgr *stream.Manager
    if cfg.Stream.Enabled && prov != nil && cfg.Finnhub.WSURL != "" && cfg.Finnhub.APIKey != "" {
        m, err := stream.New(stream.Config{
            URL:                  cfg.Finnhub.WSURL + "?token=" + url.QueryEscape(cfg.Finnhub.APIKey),
            Cache:                cacheStore,
            QuoteType:            quotes.TypeQuote,
            MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
            DialTimeout:          time.Duration(cfg.Stream.DialTimeoutSec) * time.Second,
            Logger:               logger,
        })
        if err != nil {
            log.Printf("stream manager error: %v", err)
        } else {
            mgr = m
        }
    }

    svcCfg := quotes.Config{
        Provider:       prov,
        Cache:          cacheStore,
        Limiter:        limiter,
        BatchThreshold: cfg.Finnhub.BatchThreshold,
        StaggerDelay:   time.Duration(cfg.Finnhub.StaggerDelayMs) * time.Millisecond,
        RefreshTimeout: time.Duration(cfg.Finnhub.RefreshTimeoutSec) * time.Second,
        Logger:         logger,
    }
    if mgr != nil { svcCfg.Stream = mgr }
    svc, err := quotes.New(svcCfg)
    if err != nil { log.Fatalf("quotes service: %v", err) }

    api := &apiServer{svc: svc, stream: mgr, cache: cacheStore, limiter: limiter, log: logger}

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", api.handleHealthz)
    mux.HandleFunc("/api/quote/", api.handleQuote)
    mux.HandleFunc("/api/quotes", api.handleQuotes)
    mux.HandleFunc("/api/search", api.handleSearch)
    mux.HandleFunc("/api/profile/", api.handleProfile)

    root := http.NewServeMux()
    // The websocket upgrade hijacks the connection, so it must sit outside
    // the gzip and JSON-header middleware.
    root.HandleFunc("/api/stream", api.handleStream)
    root.Handle("/", withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))))

    srv := &http.Server{
        Addr:              ":" + port,
        Handler:           root,
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      20 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        log.Printf("server listening on :%s", port)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })
    if mgr != nil {
        g.Go(func() error {
            // First dial failures are retried by the manager itself.
            if err := mgr.Connect(gctx); err != nil { log.Printf("stream: %v", err) }
            return nil
        })
    }
    g.Go(func() error {
        <-gctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        _ = srv.Shutdown(shutdownCtx)
        svc.Cleanup(shutdownCtx)
        return nil
    })
    if err := g.Wait(); err != nil { log.Fatalf("server: %v", err) }
}

// openStore builds the durable cache tier named in config. Every failure
// path returns nil so the server still starts with the in-memory tier only.
func openStore(cfg config.Store) kvstore.Store {
    switch strings.ToLower(cfg.Backend) {
    case "", "off", "none":
        return nil
    case "file":
        s, err := kvstore.NewFile(cfg.Dir)
        if err != nil {
            log.Printf("file store error: %v; durable cache disabled", err)
            return nil
        }
        return s
    case "redis":
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        s, err := kvstore.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, 48*time.Hour)
        if err != nil {
            log.Printf("redis store error: %v; durable cache disabled", err)
            return nil
        }
        return s
    default:
        log.Printf("unknown store backend %q; durable cache disabled", cfg.Backend)
        return nil
    }
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
