package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&quoteCmd{}, "")
	commander.Register(&quotesCmd{}, "")
	commander.Register(&searchCmd{}, "")
	commander.Register(&profileCmd{}, "")
	commander.Register(&watchCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
