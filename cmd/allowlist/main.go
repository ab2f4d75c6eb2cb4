package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-allowlist/config"
	"github.com/goliatone/go-allowlist/repository"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("allowlist"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "allowlist",
		Usage: "Discord and Twitter gated allowlist with boarding pass images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("ALLOWLIST_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Dotenv files loaded before the environment is read",
				Value: []string{".env"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:  "seed",
				Usage: "Load allowlisted members from a YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the members file",
						Required: true,
					},
				},
				Action: seed,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String("config"), cmd.StringSlice("env-file")...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{
		config: cfg,
		logger: newLogger(),
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			app.GetLogger("store").Error("failed to close store", "error", err)
		}
	}()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}

	if err := WithService(ctx, app); err != nil {
		return err
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		return err
	}

	lgr := app.GetLogger("app")
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		lgr.Info("starting server", "address", cfg.Server.Address)
		return app.srv.Serve(cfg.Server.Address)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		lgr.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func seed(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}

	lgr := newLogger()

	repo, err := repository.Open(ctx, storeConfig(cfg.Store))
	if err != nil {
		return err
	}
	defer repo.Close(context.Background())

	f, err := os.Open(cmd.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := allowlist.LoadSeedFile(f)
	if err != nil {
		return err
	}

	count, err := allowlist.SeedMembers(ctx, repo.Members(), file, lgr.GetLogger("seed"))
	if err != nil {
		return err
	}

	lgr.Info("seeded members", "count", count, "driver", cfg.Store.Driver)
	return nil
}
