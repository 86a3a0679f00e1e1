package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"quotefeed/internal/provider"
	"quotefeed/internal/stream"
)

type watchCmd struct {
	app appFlags
	raw bool
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "stream live trades for one or more symbols" }
func (*watchCmd) Usage() string {
	return `quotefeed watch [-json] <symbol> [<symbol>...]

  Subscribes to the live trade stream and prints every tick until
  interrupted. Lost connections are retried with growing delays; the
  command exits once the stream gives up.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	c.app.register(f)
	f.BoolVar(&c.raw, "json", false, "print ticks as JSON lines")
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "watch: at least one symbol is required")
		return subcommands.ExitUsageError
	}
	cfg, err := c.app.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if cfg.Finnhub.WSURL == "" || cfg.Finnhub.APIKey == "" {
		fmt.Fprintln(os.Stderr, "watch: FINNHUB_WS_URL and FINNHUB_API_KEY must be set")
		return subcommands.ExitFailure
	}

	mgr, err := stream.New(stream.Config{
		URL:                  cfg.Finnhub.WSURL + "?token=" + url.QueryEscape(cfg.Finnhub.APIKey),
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		DialTimeout:          time.Duration(cfg.Stream.DialTimeoutSec) * time.Second,
		Logger:               c.app.logger(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer mgr.Disconnect()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, sym := range f.Args() {
		cancel := mgr.Subscribe(sym, c.printTick)
		defer cancel()
	}
	if err := mgr.Connect(ctx); err != nil {
		// The manager keeps retrying in the background.
		fmt.Fprintln(os.Stderr, err)
	}

	check := time.NewTicker(time.Second)
	defer check.Stop()
	for {
		select {
		case <-ctx.Done():
			return subcommands.ExitSuccess
		case <-check.C:
			if mgr.State() == stream.StateDisconnected {
				fmt.Fprintln(os.Stderr, "watch: stream disconnected, giving up")
				return subcommands.ExitFailure
			}
		}
	}
}

func (c *watchCmd) printTick(tick provider.TradeTick) {
	if c.raw {
		b, _ := json.Marshal(tick)
		fmt.Println(string(b))
		return
	}
	ts := time.UnixMilli(tick.Timestamp).UTC().Format("15:04:05.000")
	fmt.Printf("%s  %-8s %12.4f  vol %g\n", ts, tick.Symbol, tick.Price, tick.Volume)
}
