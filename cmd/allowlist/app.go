package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-allowlist/activitymap"
	"github.com/goliatone/go-allowlist/config"
	"github.com/goliatone/go-allowlist/pass"
	"github.com/goliatone/go-allowlist/repository"
	"github.com/goliatone/go-allowlist/social"
	"github.com/goliatone/go-allowlist/social/providers/discord"
	"github.com/goliatone/go-allowlist/social/providers/twitter"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App holds the wired components of the service.
type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	repo     *repository.Manager
	registry *prometheus.Registry
	service  *allowlist.Service
	passes   *pass.Generator
	srv      router.Server[*fiber.App]
	audit    *os.File
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close(ctx))
	}
	return errors.Join(errs...)
}

func storeConfig(cfg config.StoreConfig) repository.Config {
	return repository.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MongoURI:        cfg.MongoURI,
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	}
}

// WithPersistence opens the configured member store.
func WithPersistence(ctx context.Context, app *App) error {
	cfg := storeConfig(app.Config().Store)
	cfg.Debug = app.Config().Debug
	cfg.Logger = app.GetLogger("persistence")

	repo, err := repository.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", app.Config().Store.Driver, err)
	}
	repo.MustValidate()
	app.repo = repo

	app.GetLogger("store").Info("member store ready", "driver", app.Config().Store.Driver)
	return nil
}

// WithService wires providers, activity sinks and the workflow service.
func WithService(ctx context.Context, app *App) error {
	cfg := app.Config()
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	discordProvider := discord.New(discord.Config{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		CallbackURL:  cfg.Discord.CallbackURL,
		BotToken:     cfg.Discord.BotToken,
		GuildID:      cfg.Discord.GuildID,
		RoleID:       cfg.Discord.RoleID,
		HTTPClient:   client,
	})

	twitterProvider := twitter.New(twitter.Config{
		ConsumerKey:    cfg.Twitter.APIKey,
		ConsumerSecret: cfg.Twitter.APISecret,
		CallbackURL:    cfg.Twitter.CallbackURL,
		BearerToken:    cfg.Twitter.BearerToken,
		HTTPClient:     client,
	})

	stateKey := []byte(cfg.State.Secret)
	if len(stateKey) == 0 {
		stateKey = make([]byte, 32)
		if _, err := rand.Read(stateKey); err != nil {
			return err
		}
		app.GetLogger("service").Warn("no state secret configured, using an ephemeral key")
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricsSink, err := allowlist.NewMetricsActivitySink(app.registry)
	if err != nil {
		return err
	}

	sink := allowlist.MultiActivitySink{
		allowlist.NewLoggingActivitySink(app.GetLogger("activity")),
		metricsSink,
	}

	if cfg.AuditLog != "" {
		f, err := os.OpenFile(cfg.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		app.audit = f
		sink = append(sink, activitymap.NewSink(f))
	}

	members := app.repo.Members()

	app.service = allowlist.NewService(discordProvider, twitterProvider, members,
		allowlist.WithFrontendRedirectURL(cfg.Discord.FrontendRedirectURL),
		allowlist.WithStateManager(social.NewSignedStateManager(stateKey, cfg.State.TTL)),
		allowlist.WithActivitySink(sink),
		allowlist.WithLogger(app.GetLogger("service")),
		allowlist.WithDebug(cfg.Debug),
	)

	passes, err := pass.New(members, twitterProvider,
		pass.WithAssetDir(cfg.Pass.AssetDir),
		pass.WithBaseImage(cfg.Pass.BaseImage),
		pass.WithTemplatesDir(cfg.Pass.TemplatesDir),
		pass.WithFont(cfg.Pass.FontPath),
		pass.WithFontSize(cfg.Pass.FontSize),
		pass.WithHTTPClient(client),
		pass.WithLogger(app.GetLogger("pass")),
		pass.WithActivitySink(sink),
	)
	if err != nil {
		return err
	}
	app.passes = passes

	return nil
}

// WithHTTPServer builds the fiber server and registers every route.
func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.Config()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "allowlist",
			UnescapePath:          true,
			StrictRouting:         false,
			DisableStartupMessage: !cfg.Debug,
		}))
	})

	srv.WrappedRouter().Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
	}))

	srv.Router().WithLogger(app.GetLogger("router"))

	if cfg.Server.MetricsEnabled {
		srv.WrappedRouter().Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		))
	}

	controller := allowlist.NewHTTPController(app.service, app.passes,
		allowlist.WithControllerLogger(app.GetLogger("http")),
		allowlist.WithControllerDebug(cfg.Debug),
	)
	controller.RegisterRoutes(srv.Router())

	app.srv = srv
	return nil
}
