package main

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/oplabs/fp-program/host"
	"github.com/oplabs/fp-program/host/config"
	"github.com/oplabs/fp-program/host/flags"
)

func main() {
	args := os.Args
	if err := run(args, host.Main); err != nil {
		log.Crit("Application failed", "err", err)
	}
}

type ConfigAction func(logger log.Logger, cfg *config.Config, sources *host.Sources) error

func run(args []string, action ConfigAction) error {
	app := cli.NewApp()
	app.Name = "fpp"
	app.Usage = "Fault Proof Program"
	app.Description = "Runs the fault proof program in pre-image server mode, or with the client in-process for native verification."
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		logger := log.NewLogger(log.LogfmtHandlerWithLevel(os.Stderr, log.LevelInfo))
		cfg, err := config.NewConfigFromCLI(logger, ctx)
		if err != nil {
			return err
		}
		// External data sources are injected by embedding services; the CLI
		// serves pre-populated stores.
		return action(logger, cfg, nil)
	}
	return app.Run(args)
}
