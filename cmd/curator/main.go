package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/portfoliokit/curator/pkg/app"
	"github.com/portfoliokit/curator/pkg/config"
	"github.com/portfoliokit/curator/pkg/logger"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "curator",
		Usage: "curate the display order of portfolio collections",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file", EnvVars: []string{"CURATOR_CONFIG"}},
			&cli.StringFlag{Name: "backend", Usage: "store backend: surrealdb, postgres, mysql or memory"},
			&cli.StringFlag{Name: "port", Usage: "HTTP port of the serve command"},
			&cli.BoolFlag{Name: "read-only", Usage: "refuse every write"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
			&cli.StringFlag{Name: "log-file", Usage: "append logs to this file instead of stderr"},
			&cli.BoolFlag{Name: "console", Usage: "human readable log output"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the admin API",
				Action: serve,
			},
			{
				Name:      "initialize",
				Usage:     "key every record of a collection by creation date, discarding curation",
				ArgsUsage: "<type>",
				Action: withCollection(func(ctx context.Context, a *app.App, args cli.Args) (any, error) {
					return a.Initialize(ctx, args.First())
				}),
			},
			{
				Name:      "repair",
				Usage:     "make the keys of a collection dense, keeping its order",
				ArgsUsage: "<type>",
				Action: withCollection(func(ctx context.Context, a *app.App, args cli.Args) (any, error) {
					return a.Repair(ctx, args.First())
				}),
			},
			{
				Name:      "audit",
				Usage:     "report duplicate keys, gaps and un-keyed records",
				ArgsUsage: "<type>",
				Action: withCollection(func(ctx context.Context, a *app.App, args cli.Args) (any, error) {
					return a.Audit(ctx, args.First())
				}),
			},
			{
				Name:      "list",
				Usage:     "print the ordered listing of a collection",
				ArgsUsage: "<type>",
				Action: withCollection(func(ctx context.Context, a *app.App, args cli.Args) (any, error) {
					return a.List(ctx, args.First())
				}),
			},
			{
				Name:      "move",
				Usage:     "move a record one position up or down",
				ArgsUsage: "<type> <id> <up|down>",
				Action: withCollection(func(ctx context.Context, a *app.App, args cli.Args) (any, error) {
					if args.Len() != 3 {
						return nil, fmt.Errorf("expected <type> <id> <up|down>, got %d arguments", args.Len())
					}
					return a.Move(ctx, args.Get(0), args.Get(1), args.Get(2))
				}),
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.String("port")
	}
	if c.IsSet("read-only") {
		cfg.Server.ReadOnly = c.Bool("read-only")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.IsSet("console") {
		cfg.Log.Console = c.Bool("console")
	}
	return cfg, nil
}

func open(c *cli.Context) (*app.App, *logger.LogData, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logData, err := logger.New().
		FromPath(cfg.Log.File).
		WithLevel(cfg.Log.Level).
		Console(cfg.Log.Console).
		Make()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log: %w", err)
	}
	a, err := app.New(c.Context, cfg, logData.Logger)
	if err != nil {
		_ = logData.Close()
		return nil, nil, err
	}
	return a, logData, nil
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logData, err := open(c)
	if err != nil {
		return err
	}
	defer logData.Close()
	defer a.Close()

	return a.Run(ctx)
}

// withCollection runs a one-shot command that takes a collection type as its first argument
// and prints its result as JSON.
func withCollection(run func(ctx context.Context, a *app.App, args cli.Args) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("usage: curator %s %s", c.Command.Name, c.Command.ArgsUsage)
		}
		a, logData, err := open(c)
		if err != nil {
			return err
		}
		defer logData.Close()
		defer a.Close()

		result, err := run(c.Context, a, c.Args())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(out))
		return nil
	}
}
