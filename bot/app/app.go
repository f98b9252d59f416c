package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/db"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	"github.com/kanaridev/KanariBot-Go/bot/dyncog"
	logpkg "github.com/kanaridev/KanariBot-Go/bot/logger"
	"github.com/kanaridev/KanariBot-Go/bot/persona"
	"github.com/kanaridev/KanariBot-Go/bot/updater"
	"github.com/kanaridev/KanariBot-Go/bot/worker"
)

// App wires all application dependencies.
type App struct {
	Config  *config.Config
	Logger  *logpkg.Logger
	DB      *db.Repository
	Pool    *worker.Pool
	Session *discord.Session
	Persona *persona.Store
	Updater *updater.Updater
	Scripts *dyncog.Manager
	Cogs    []cogs.Cog
	Build   bot.BuildInfo
}

// New builds the application container.
func New(ctx context.Context, configPath string, build bot.BuildInfo) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logpkg.New(
		conf.GetString("LogLevel"),
		conf.GetString("LogFormat"),
		conf.GetString("LogDir"),
		conf.GetBool("LogSource"),
	)
	if err != nil {
		return nil, err
	}

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "kanari.db"
	}

	repo, err := db.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	poolMaxOpen := conf.GetInt("DBMaxOpenConns")
	poolMaxIdle := conf.GetInt("DBMaxIdleConns")
	poolMaxLifetimeSec := conf.GetInt("DBConnMaxLifetimeSec")
	if err := repo.ConfigurePool(poolMaxOpen, poolMaxIdle, time.Duration(poolMaxLifetimeSec)*time.Second); err != nil {
		return nil, fmt.Errorf("configure db pool: %w", err)
	}

	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	personaStore := persona.Load(
		conf.GetString("PersonaPath"),
		"config/persona.json",
		"config/personas/persona.json",
	)
	log.Info("persona lines loaded", "mode", personaStore.Mode(), "tones", personaStore.Tones())

	session, err := discord.New(discord.Options{
		Token:              conf.FirstString(config.TokenKeys...),
		RateLimitPerSecond: conf.GetFloat64("RateLimitPerSecond"),
		RateLimitBurst:     conf.GetInt("RateLimitBurst"),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init discord: %w", err)
	}

	var checker *updater.Updater
	if conf.GetBool("UpdateCheck") {
		checker = updater.New(conf.GetString("UpdateRepo"), build.BinVersion, log)
	}

	deps := &cogs.Deps{
		Config:  conf,
		Logger:  log,
		Repo:    repo,
		Pool:    pool,
		Persona: personaStore,
		Build:   build,
	}
	if checker != nil {
		deps.Updater = checker
	}

	var loaded []cogs.Cog
	for _, name := range cogs.Names() {
		if !cogEnabled(conf, name) {
			log.Info("cog disabled by config", "cog", name)
			continue
		}
		factory, ok := cogs.Get(name)
		if !ok {
			log.Warn("cog not registered", "cog", name)
			continue
		}
		cog, err := factory(deps)
		if err != nil {
			log.Error("cog init failed", "cog", name, "error", err)
			continue
		}
		if cog == nil {
			continue
		}
		loaded = append(loaded, cog)
	}

	noticeTTL := time.Duration(conf.GetInt("NoticeTTLSeconds")) * time.Second
	scripts := dyncog.NewManager(conf.GetString("CogScriptDir"), noticeTTL, log, pool)

	return &App{
		Config:  conf,
		Logger:  log,
		DB:      repo,
		Pool:    pool,
		Session: session,
		Persona: personaStore,
		Updater: checker,
		Scripts: scripts,
		Cogs:    loaded,
		Build:   build,
	}, nil
}

// Start registers all handlers and opens the gateway. Handlers must be in
// place before Open so the ready refresh is not missed.
func (a *App) Start(ctx context.Context) error {
	for _, cog := range a.Cogs {
		if err := cog.Register(a.Session); err != nil {
			return fmt.Errorf("register cog %s: %w", cog.Name(), err)
		}
		a.Logger.Info("cog registered", "cog", cog.Name())
	}

	if a.Scripts != nil {
		if err := a.Scripts.Load(); err != nil {
			a.Logger.Warn("script cogs unavailable", "error", err)
		}
		if err := a.Scripts.Register(a.Session); err != nil {
			return fmt.Errorf("register script cogs: %w", err)
		}
	}

	if err := a.Session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.Logger.Info("gateway connected", "version", a.Build.BinVersion, "commit", a.Build.CommitSHA)

	if a.Updater != nil {
		go a.checkRelease(ctx)
	}
	return nil
}

func (a *App) checkRelease(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	release, err := a.Updater.CheckUpdate(checkCtx)
	if err != nil || release == nil {
		return
	}
	if release.Newer {
		a.Logger.Info("newer release available", "version", release.TagName, "url", release.URL)
	}
}

// Shutdown releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.Session != nil {
		if err := a.Session.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close gateway", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close gateway: %w", err)
			}
		}
	}

	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			a.Pool.StopNow()
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown worker pool: %w", err)
			}
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close database", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}

	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close logger: %w", err)
			}
		}
	}

	return firstErr
}

// cogEnabled honors an explicit enabled key in the cog's config section and
// defaults to on.
func cogEnabled(conf *config.Config, name string) bool {
	if section, ok := conf.GetCogConfig(name); ok {
		if _, hasKey := section["enabled"]; hasKey {
			return conf.GetCogBool(name, "enabled")
		}
	}
	return true
}
