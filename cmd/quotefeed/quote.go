package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"quotefeed/internal/provider"
)

type quoteCmd struct {
	app     appFlags
	refresh bool
	raw     bool
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "fetch the latest quote for one symbol" }
func (*quoteCmd) Usage() string {
	return `quotefeed quote [-refresh] [-json] <symbol>

  Prints the current quote for a symbol, served from cache when fresh.
  -refresh forces a provider fetch even when a cached value exists.
`
}

func (c *quoteCmd) SetFlags(f *flag.FlagSet) {
	c.app.register(f)
	f.BoolVar(&c.refresh, "refresh", false, "bypass the cache and fetch from the provider")
	f.BoolVar(&c.raw, "json", false, "print the raw JSON payload")
}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "quote: exactly one symbol is required")
		return subcommands.ExitUsageError
	}
	svc, err := c.app.buildService()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer svc.Cleanup(ctx)

	var q *provider.Quote
	if c.refresh {
		q, err = svc.RefreshQuote(ctx, f.Arg(0))
	} else {
		q, err = svc.GetQuote(ctx, f.Arg(0))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if q == nil {
		fmt.Fprintf(os.Stderr, "no data for %q\n", f.Arg(0))
		return subcommands.ExitFailure
	}
	if c.raw {
		printJSON(q)
		return subcommands.ExitSuccess
	}
	printQuote(q)
	return subcommands.ExitSuccess
}
