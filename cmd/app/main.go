package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"volume_miner/internal/app"
	"volume_miner/internal/infra"
)

func run(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap(app.Options{
		ConfigPath: cmd.String("config"),
		LogLevel:   cmd.String("log-level"),
		Paper:      cmd.Bool("paper"),
	})
	defer bootstrap.Close()

	if err := bootstrap.Initialize(ctx); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	return bootstrap.Run(ctx)
}

func incidentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "incidents",
		Usage: "Inspect and reconcile incidents filed by exhausted sells",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show unresolved incidents",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return app.ListIncidents(ctx, cmd.String("config"), os.Stdout)
				},
			},
			{
				Name:      "resolve",
				Usage:     "Mark an incident as reconciled",
				ArgsUsage: "<incident-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("incident id is required")
					}
					if err := app.ResolveIncident(ctx, cmd.String("config"), id); err != nil {
						return err
					}
					fmt.Printf("resolved %s\n", id)
					return nil
				},
			},
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "volume-miner",
		Usage: "Place paired buy/sell orders on O2 around the Bitget reference price",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML or TOML config file",
				Value:   infra.DefaultConfigPath,
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override general.log_level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "paper",
				Usage: "Simulate order submission instead of trading",
			},
		},
		Commands: []*cli.Command{incidentsCommand()},
		Action:   run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("❌ volume miner stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
