package main

import (
    "bufio"
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "log/slog"
    "os"
    "sort"
    "strings"
    "time"

    "github.com/joho/godotenv"

    "quotefeed/internal/cache"
    "quotefeed/internal/config"
    "quotefeed/internal/httpx"
    "quotefeed/internal/kvstore"
    "quotefeed/internal/quotes"
    "quotefeed/internal/provider/finnhub"
    "quotefeed/internal/ratelimit"
)

// snapshot fetches quotes for a whole watchlist and writes them to one
// JSON file. Useful as a cron job to capture end-of-day prices and to
// pre-warm the durable cache tier.
func main() {
    var (
        symbolsFile string
        outPath     string
        cfgPath     string
        chunkSize   int
        timeoutSec  int
    )
    flag.StringVar(&symbolsFile, "symbols-file", "watchlist.txt", "file with one symbol per line, or a JSON array")
    flag.StringVar(&outPath, "out", "quotes_snapshot.json", "output JSON file path")
    flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
    flag.IntVar(&chunkSize, "chunk", 50, "symbols per provider batch")
    flag.IntVar(&timeoutSec, "timeout", 0, "request timeout seconds (overrides config)")
    flag.Parse()

    _ = godotenv.Load()

    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatalf("config: %v", err) }
    if timeoutSec > 0 { cfg.Server.RequestTimeoutSec = timeoutSec }
    if !cfg.IsConfigured() { log.Fatal("FINNHUB_BASE_URL missing (set in config.json or env)") }

    symbols, err := readSymbols(symbolsFile)
    if err != nil { log.Fatalf("read symbols: %v", err) }
    if len(symbols) == 0 { log.Fatal("no symbols found in symbols-file") }
    sort.Strings(symbols)
    log.Printf("symbols: %d", len(symbols))

    // Keep the whole watchlist resident for the run.
    if n := len(symbols); n > cfg.Cache.MaxEntries { cfg.Cache.MaxEntries = n + 100 }

    svc, err := buildService(cfg)
    if err != nil { log.Fatalf("service: %v", err) }
    ctx := context.Background()
    defer svc.Cleanup(ctx)

    outFile, err := os.Create(outPath)
    if err != nil { log.Fatalf("create out: %v", err) }
    defer outFile.Close()
    bw := bufio.NewWriterSize(outFile, 1<<20)

    generated := time.Now().UTC().Format(time.RFC3339)
    _, _ = fmt.Fprintf(bw, "{\"generatedAt\":%q,\"quotes\":{", generated)
    first := true
    total := 0

    for i := 0; i < len(symbols); i += chunkSize {
        end := i + chunkSize
        if end > len(symbols) { end = len(symbols) }
        reqCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
        got, err := svc.GetQuotes(reqCtx, symbols[i:end])
        cancel()
        if err != nil {
            log.Printf("chunk %d-%d error: %v", i, end, err)
            continue
        }
        keys := make([]string, 0, len(got))
        for sym := range got { keys = append(keys, sym) }
        sort.Strings(keys)
        for _, sym := range keys {
            b, _ := json.Marshal(got[sym])
            if !first { _, _ = bw.WriteString(",") } else { first = false }
            _, _ = fmt.Fprintf(bw, "%q:", sym)
            _, _ = bw.Write(b)
        }
        total += len(got)
        log.Printf("chunk %d-%d: %d of %d quotes", i, end, len(got), end-i)
    }

    _, _ = bw.WriteString("}}")
    if err := bw.Flush(); err != nil { log.Fatalf("flush: %v", err) }
    log.Printf("done: wrote %d quotes to %s", total, outPath)
}

func readSymbols(path string) ([]string, error) {
    b, err := os.ReadFile(path)
    if err != nil { return nil, err }
    trimmed := strings.TrimSpace(string(b))
    if strings.HasPrefix(trimmed, "[") {
        var arr []string
        if err := json.Unmarshal(b, &arr); err != nil { return nil, err }
        return arr, nil
    }
    var out []string
    for _, line := range strings.Split(trimmed, "\n") {
        line = strings.TrimSpace(line)
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, line)
    }
    return out, nil
}

func buildService(cfg config.Config) (*quotes.Service, error) {
    logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
    fh, err := finnhub.New(cfg.Finnhub.BaseURL, cfg.Finnhub.APIKey, finnhub.WithHTTPClient(httpClient))
    if err != nil { return nil, fmt.Errorf("finnhub client: %w", err) }

    var store kvstore.Store
    switch strings.ToLower(cfg.Store.Backend) {
    case "file":
        if s, err := kvstore.NewFile(cfg.Store.Dir); err == nil { store = s } else { log.Printf("file store: %v", err) }
    case "redis":
        rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        if s, err := kvstore.NewRedis(rctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, cfg.Store.RedisPrefix, 48*time.Hour); err == nil { store = s } else { log.Printf("redis store: %v", err) }
        cancel()
    }

    cs := cache.New(cache.Options{
        MaxEntries:        cfg.Cache.MaxEntries,
        MaxDurableEntries: cfg.Cache.MaxDurableEntries,
        Durable:           store,
        Logger:            logger,
    })
    limiter := ratelimit.New(ratelimit.Options{
        CallsPerMinute: cfg.Finnhub.MaxRequestsPerMinute,
        MinInterval:    time.Duration(cfg.Finnhub.MinRequestIntervalMs) * time.Millisecond,
    })
    return quotes.New(quotes.Config{
        Provider:       fh,
        Cache:          cs,
        Limiter:        limiter,
        BatchThreshold: cfg.Finnhub.BatchThreshold,
        StaggerDelay:   time.Duration(cfg.Finnhub.StaggerDelayMs) * time.Millisecond,
        Logger:         logger,
    })
}
