package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/triagehub/triagehub-backend/internal/api/rest"
	"github.com/triagehub/triagehub-backend/internal/config"
	"github.com/triagehub/triagehub-backend/internal/coreapi"
	"github.com/triagehub/triagehub-backend/internal/crypto"
	"github.com/triagehub/triagehub-backend/internal/engine"
	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/oauth"
	"github.com/triagehub/triagehub-backend/internal/pkg/logger"
	"github.com/triagehub/triagehub-backend/internal/plugin"
	slackadapter "github.com/triagehub/triagehub-backend/internal/plugins/slack"
	"github.com/triagehub/triagehub-backend/internal/repository"
	"github.com/triagehub/triagehub-backend/internal/store"
)

const (
	serviceName    = "triagehub-backend"
	serviceVersion = "1.2.0"
)

func main() {
	log := logger.StdLogger()
	log.Info("starting", "service", serviceName, "version", serviceVersion)

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration invalid", "err", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "port", cfg.Port, "db_driver", cfg.DatabaseDriver)

	// Persistence.
	var repo repository.Repository
	migrationFile := "migrations/001_initial_schema.sql"
	switch cfg.DatabaseDriver {
	case "postgres":
		repo, err = repository.NewPostgresRepository(cfg.DatabaseDSN)
		migrationFile = "migrations/001_initial_schema.postgres.sql"
	default:
		repo, err = repository.NewSQLiteRepository(cfg.DatabasePath)
	}
	if err != nil {
		log.Error("database initialization failed", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	migrationSQL, err := os.ReadFile(migrationFile)
	if err != nil {
		log.Error("could not read migration file", "path", migrationFile, "err", err)
		os.Exit(1)
	}
	if err := repo.RunMigrations(string(migrationSQL)); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	// Token cipher and the encrypted installation store.
	cipher, err := crypto.NewTokenCipher(cfg.CipherPassphrase)
	if err != nil {
		log.Error("token cipher initialization failed", "err", err)
		os.Exit(1)
	}
	installations := store.NewInstallationStore(repo, cipher)

	// Triage engine over the task source.
	source := engine.NewStaticSource()
	if cfg.TaskSeedPath != "" {
		source, err = engine.NewStaticSourceFromFile(cfg.TaskSeedPath)
		if err != nil {
			log.Error("task seed load failed", "path", cfg.TaskSeedPath, "err", err)
			os.Exit(1)
		}
	}
	eng := engine.New(source, repo, log)

	// Event bus and the core actions façade.
	bus := plugin.NewEventBus(log)
	actions := coreapi.New(eng, bus, log)

	// Registry with compile-time adapter factories.
	loader := plugin.NewConfigLoader(cfg.PluginConfigDir)
	registry := plugin.NewRegistry(actions, loader, log,
		time.Duration(cfg.PluginStopGraceSec)*time.Second)
	registry.RegisterFactory("slack", slackadapter.Factory(installations, log))

	// Core events fan out to every adapter.
	bus.Subscribe("registry", func(_ context.Context, ev models.Event) {
		registry.BroadcastEvent(ev.Type, ev.Data)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, name := range registry.Discover() {
		outcome := registry.LoadWithAutoConfig(ctx, name)
		log.Info("plugin load attempted", "plugin", name, "outcome", outcome.String())
	}
	registry.StartAll(ctx)

	// OAuth flows for adapters that configured client credentials.
	flows := map[string]*oauth.Flow{}
	for _, name := range registry.Loaded() {
		clientID, _ := registry.ConfigValue(name, "client_id")
		clientSecret, _ := registry.ConfigValue(name, "client_secret")
		if clientID == "" || clientSecret == "" {
			continue
		}
		flows[name] = oauth.NewFlow(oauth.Options{
			PluginName:   name,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  fmt.Sprintf("%s/plugins/%s/oauth/callback", cfg.OAuthRedirectBase, name),
		}, installations, log)
		log.Info("oauth flow configured", "plugin", name)
	}

	// HTTP edge.
	secrets := func(name string) (string, bool) {
		return registry.ConfigValue(name, "signing_secret")
	}
	router := rest.NewRouter(rest.RouterDeps{
		Webhook: rest.NewWebhookHandler(registry, secrets, log),
		OAuth:   rest.NewOAuthHandler(flows, log),
		Health:  rest.NewHealthHandler(serviceName, serviceVersion),
		Logger:  log,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	readWrite := 30 * time.Second
	if cfg.RequestTimeoutSec > 0 {
		readWrite = time.Duration(cfg.RequestTimeoutSec) * time.Second
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  readWrite,
		WriteTimeout: readWrite,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr,
			"webhook", fmt.Sprintf("http://localhost:%d/plugins/{name}/webhook", cfg.Port),
			"health", fmt.Sprintf("http://localhost:%d/plugins/health", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	registry.StopAll(shutdownCtx)
	bus.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "err", err)
	}
	log.Info("server exited gracefully")
}
