package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"quotefeed/internal/cache"
	"quotefeed/internal/config"
	"quotefeed/internal/httpx"
	"quotefeed/internal/kvstore"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/finnhub"
	"quotefeed/internal/quotes"
	"quotefeed/internal/ratelimit"
)

// appFlags carries the flags shared by every subcommand.
type appFlags struct {
	config  string
	timeout int
	verbose bool
}

func (a *appFlags) register(f *flag.FlagSet) {
	f.StringVar(&a.config, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	f.IntVar(&a.timeout, "timeout", 0, "request timeout in seconds (overrides config)")
	f.BoolVar(&a.verbose, "v", false, "verbose logging")
}

func (a *appFlags) load() (config.Config, error) {
	cfg, err := config.Load(a.config)
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	if a.timeout > 0 {
		cfg.Server.RequestTimeoutSec = a.timeout
	}
	return cfg, nil
}

func (a *appFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildService wires the same acquisition stack the server runs. The
// durable tier is kept so profile and search lookups carry over between
// invocations; the caller must Cleanup the returned service.
func (a *appFlags) buildService() (*quotes.Service, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("FINNHUB_BASE_URL is not set; see config.json")
	}
	logger := a.logger()

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	fh, err := finnhub.New(cfg.Finnhub.BaseURL, cfg.Finnhub.APIKey, finnhub.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("finnhub client: %w", err)
	}

	store := cache.New(cache.Options{
		MaxEntries:        cfg.Cache.MaxEntries,
		MaxDurableEntries: cfg.Cache.MaxDurableEntries,
		Durable:           openStore(cfg.Store, logger),
		Logger:            logger,
	})
	limiter := ratelimit.New(ratelimit.Options{
		CallsPerMinute: cfg.Finnhub.MaxRequestsPerMinute,
		MinInterval:    time.Duration(cfg.Finnhub.MinRequestIntervalMs) * time.Millisecond,
	})
	return quotes.New(quotes.Config{
		Provider:       fh,
		Cache:          store,
		Limiter:        limiter,
		BatchThreshold: cfg.Finnhub.BatchThreshold,
		StaggerDelay:   time.Duration(cfg.Finnhub.StaggerDelayMs) * time.Millisecond,
		RefreshTimeout: time.Duration(cfg.Finnhub.RefreshTimeoutSec) * time.Second,
		Logger:         logger,
	})
}

func openStore(cfg config.Store, logger *slog.Logger) kvstore.Store {
	switch strings.ToLower(cfg.Backend) {
	case "file":
		s, err := kvstore.NewFile(cfg.Dir)
		if err != nil {
			logger.Warn("file store unavailable", "err", err)
			return nil
		}
		return s
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := kvstore.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, 48*time.Hour)
		if err != nil {
			logger.Warn("redis store unavailable", "err", err)
			return nil
		}
		return s
	default:
		return nil
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printQuote(q *provider.Quote) {
	ts := time.UnixMilli(q.Timestamp).UTC().Format(time.RFC3339)
	fmt.Printf("%-8s %10.2f  %+.2f (%+.2f%%)  o %.2f h %.2f l %.2f pc %.2f  %s\n",
		q.Symbol, q.Price, q.Change, q.ChangePercent, q.Open, q.High, q.Low, q.PreviousClose, ts)
}
