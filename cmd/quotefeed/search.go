package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
)

type searchCmd struct {
	app appFlags
	raw bool
	max int
}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "look up symbols matching a query" }
func (*searchCmd) Usage() string {
	return `quotefeed search [-json] [-n <max>] <query>...

  Searches the provider's symbol directory. Multi-word queries need no
  quoting; the arguments are joined with spaces.
`
}

func (c *searchCmd) SetFlags(f *flag.FlagSet) {
	c.app.register(f)
	f.BoolVar(&c.raw, "json", false, "print the raw JSON payload")
	f.IntVar(&c.max, "n", 10, "maximum matches to print")
}

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "search: a query is required")
		return subcommands.ExitUsageError
	}
	svc, err := c.app.buildService()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer svc.Cleanup(ctx)

	res, err := svc.Search(ctx, strings.Join(f.Args(), " "))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if res == nil {
		fmt.Fprintln(os.Stderr, "search unavailable")
		return subcommands.ExitFailure
	}
	if c.raw {
		printJSON(res)
		return subcommands.ExitSuccess
	}
	if len(res.Result) == 0 {
		fmt.Println("no matches")
		return subcommands.ExitSuccess
	}
	n := len(res.Result)
	if c.max > 0 && n > c.max {
		n = c.max
	}
	for _, m := range res.Result[:n] {
		fmt.Printf("%-12s %-8s %s\n", m.Symbol, m.Type, m.Description)
	}
	if rest := len(res.Result) - n; rest > 0 {
		fmt.Printf("(%d more)\n", rest)
	}
	return subcommands.ExitSuccess
}
