package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type profileCmd struct {
	app appFlags
	raw bool
}

func (*profileCmd) Name() string     { return "profile" }
func (*profileCmd) Synopsis() string { return "show the company profile for a symbol" }
func (*profileCmd) Usage() string {
	return `quotefeed profile [-json] <symbol>

  Prints the listed company's descriptive details. Profiles change
  rarely, so results are cached for a day and survive restarts when a
  durable store backend is configured.
`
}

func (c *profileCmd) SetFlags(f *flag.FlagSet) {
	c.app.register(f)
	f.BoolVar(&c.raw, "json", false, "print the raw JSON payload")
}

func (c *profileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "profile: exactly one symbol is required")
		return subcommands.ExitUsageError
	}
	svc, err := c.app.buildService()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer svc.Cleanup(ctx)

	p, err := svc.CompanyProfile(ctx, f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if p == nil {
		fmt.Fprintf(os.Stderr, "no profile for %q\n", f.Arg(0))
		return subcommands.ExitFailure
	}
	if c.raw {
		printJSON(p)
		return subcommands.ExitSuccess
	}
	fmt.Printf("%s (%s)\n", p.Name, p.Ticker)
	fmt.Printf("  exchange   %s\n", p.Exchange)
	fmt.Printf("  country    %s\n", p.Country)
	fmt.Printf("  currency   %s\n", p.Currency)
	fmt.Printf("  industry   %s\n", p.Industry)
	fmt.Printf("  ipo        %s\n", p.IPO)
	fmt.Printf("  market cap %.1fM\n", p.MarketCap)
	fmt.Printf("  web        %s\n", p.WebURL)
	return subcommands.ExitSuccess
}
