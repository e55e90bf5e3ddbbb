// Package app wires settings into a ready-to-use engine, HTTP config and
// background workers. Commands open one App per invocation.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"anagami/internal/config"
	"anagami/internal/db"
	"anagami/internal/engine"
	"anagami/internal/generation"
	"anagami/internal/llm"
	"anagami/internal/metrics"
	"anagami/internal/migrate"
	"anagami/internal/notify"
	"anagami/internal/platform/logger"
	"anagami/internal/prompt"
	"anagami/internal/retrieval"
	"anagami/internal/server"
	"anagami/internal/usage"
)

type App struct {
	Settings *config.Settings
	Log      *logger.Logger
	DB       *sql.DB
	Catalog  *config.Catalog
	Engine   engine.Engine
	Usage    *usage.Logger
	Metrics  *metrics.Metrics
}

// Options overrides pieces of the default wiring. Zero values use the settings.
type Options struct {
	LLM llm.Client
}

// Open prepares the workspace, runs migrations and builds the engine.
func Open(s *config.Settings, log *logger.Logger, opts Options) (*App, error) {
	if s == nil {
		s = config.Default()
	}
	log = logger.OrNop(log)
	if _, err := db.EnsureWorkspace(s.DB.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: s.DB.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cat := config.DefaultCatalog()
	if s.Catalog.File != "" {
		if cat, err = config.LoadCatalog(s.Catalog.File); err != nil {
			conn.Close()
			return nil, err
		}
	}
	client := opts.LLM
	if client == nil {
		if client, err = llm.New(s.LLM); err != nil {
			conn.Close()
			return nil, err
		}
	}

	m := metrics.New()
	e := engine.New(conn, cat, nil)
	e.Log = log
	u := &usage.Logger{
		Repo:      e.Repo,
		State:     usage.NewState(),
		Log:       log.With("component", "usage"),
		Retention: s.Usage.RequestLogRetention,
	}
	e.Generator = generation.Orchestrator{
		Catalog:   cat,
		Prompts:   prompt.Resolver{Repo: e.Repo, Catalog: cat, Log: log},
		Retriever: retrieval.Retriever{Repo: e.Repo, Log: log},
		LLM:       client,
		Usage:     u,
		Metrics:   m,
		Log:       log.With("component", "generation"),
		Settings:  s.LLM,
	}
	return &App{
		Settings: s,
		Log:      log,
		DB:       conn,
		Catalog:  cat,
		Engine:   e,
		Usage:    u,
		Metrics:  m,
	}, nil
}

// Seed creates the configured admin and default prompts.
func (a *App) Seed(ctx context.Context) (engine.SeedResult, error) {
	admin := a.Settings.Admin
	res, err := a.Engine.Seed(ctx, admin.Email, admin.Password, admin.Name)
	if err != nil {
		return res, err
	}
	if res.AdminCreated {
		a.Log.Info("admin user created", "email", admin.Email)
	}
	if len(res.PromptsSeeded) > 0 {
		a.Log.Info("default prompts seeded", "prompts", res.PromptsSeeded)
	}
	return res, nil
}

func (a *App) ServerConfig() server.Config {
	s := a.Settings
	return server.Config{
		Engine:   a.Engine,
		BasePath: s.Server.BasePath,
		Auth:     server.AuthConfig{JWTSecret: s.Auth.JWTSecret, TokenTTL: s.Auth.TokenTTL},
		Public: server.PublicConfig{
			SiteAPIKey:  s.Public.SiteAPIKey,
			MaxInput:    s.Public.MaxInput,
			RatePerHour: s.Public.RatePerHour,
			Turnstile:   server.Turnstile{Secret: s.Public.TurnstileSecret},
		},
		Usage:   a.Usage,
		Metrics: a.Metrics,
		Log:     a.Log.With("component", "http"),
	}
}

func (a *App) Notifier() *notify.Dispatcher {
	return notify.New(a.Engine.Repo, a.Settings.Webhooks, a.Log.With("component", "notify"))
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
