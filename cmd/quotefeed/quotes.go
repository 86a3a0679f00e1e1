package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/google/subcommands"
)

type quotesCmd struct {
	app appFlags
	raw bool
}

func (*quotesCmd) Name() string     { return "quotes" }
func (*quotesCmd) Synopsis() string { return "fetch quotes for several symbols at once" }
func (*quotesCmd) Usage() string {
	return `quotefeed quotes [-json] <symbol> [<symbol>...]

  Fetches quotes for all given symbols, batching uncached ones into a
  single provider round trip where possible. Symbols with no data are
  left out of the output.
`
}

func (c *quotesCmd) SetFlags(f *flag.FlagSet) {
	c.app.register(f)
	f.BoolVar(&c.raw, "json", false, "print the raw JSON payload")
}

func (c *quotesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "quotes: at least one symbol is required")
		return subcommands.ExitUsageError
	}
	svc, err := c.app.buildService()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer svc.Cleanup(ctx)

	out, err := svc.GetQuotes(ctx, f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if c.raw {
		printJSON(out)
		return subcommands.ExitSuccess
	}
	symbols := make([]string, 0, len(out))
	for sym := range out {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)
	for _, sym := range symbols {
		printQuote(out[sym])
	}
	if missing := f.NArg() - len(out); missing > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d symbols returned no data\n", missing, f.NArg())
	}
	return subcommands.ExitSuccess
}
