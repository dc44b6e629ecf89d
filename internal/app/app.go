package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cronagent/internal/adapter/httpapi"
	"cronagent/internal/adapter/telegram"
	"cronagent/internal/adapter/trigger"
	"cronagent/internal/agent"
	"cronagent/internal/config"
	"cronagent/internal/executor"
	"cronagent/internal/handlers"
	"cronagent/internal/manage"
	"cronagent/internal/platform/httpclient"
	"cronagent/internal/platform/logger"
	"cronagent/internal/store"
	"cronagent/internal/store/pgstore"
	"cronagent/internal/store/sqlitestore"
)

const shutdownTimeout = 10 * time.Second

// App wires application components.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	closeLog func() error
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, closeLog := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "cronagent",
	})
	return &App{cfg: cfg, log: log, closeLog: closeLog}, nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return pgstore.Open(ctx, cfg.DB.DSN, cfg.DB.Migrate, log)
	case "sqlite":
		return sqlitestore.Open(ctx, cfg.DB.DSN, cfg.DB.Migrate, log)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DB.Driver)
}

// Run starts the application. Without a schedule and an HTTP address it
// runs a single batch and exits.
func (a *App) Run() error {
	defer func() { _ = a.closeLog() }()
	a.log.Info("starting", "driver", a.cfg.DB.Driver, "dsn", a.cfg.DB.DSN)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(30*time.Second),
		httpclient.WithRetries(2, 500*time.Millisecond),
	)

	reg := executor.NewRegistry()
	if err := handlers.Register(reg, handlers.Deps{Journal: st, HTTP: client, Log: a.log}); err != nil {
		return err
	}

	var notifiers []agent.Notifier
	if a.cfg.TelegramEnabled() {
		b, err := telegram.NewBot(a.cfg.Telegram.Token, "", client)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifiers = append(notifiers, telegram.NewNotifier(b, a.cfg.Telegram.ChatID, telegram.WithLogger(a.log)))
	}

	journal := agent.NewJournal(st, a.log, notifiers...)
	ag := agent.New(st, executor.New(reg, a.log), journal, a.log, agent.Options{Batch: a.cfg.Agent.Batch})
	svc := manage.New(st, reg, journal, a.log)

	if a.cfg.Agent.Schedule == "" && a.cfg.HTTP.Addr == "" {
		report, err := ag.Run(ctx, agent.RunOptions{})
		a.log.Info("single run finished", "claimed", report.Claimed, "succeeded", report.Succeeded, "failed", report.Failed)
		return err
	}

	var trig *trigger.Trigger
	if a.cfg.Agent.Schedule != "" {
		trig, err = trigger.New(ctx, ag, trigger.Config{Schedule: a.cfg.Agent.Schedule, Logger: a.log})
		if err != nil {
			return err
		}
		trig.Start()
	}

	var srv *http.Server
	errc := make(chan error, 1)
	if a.cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              a.cfg.HTTP.Addr,
			Handler:           httpapi.New(svc, ag, st, a.log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			// streaming callers end with the process
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		go func() {
			a.log.Info("http listening", "addr", a.cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		a.log.Error("server", slog.Any("err", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if trig != nil {
		if err := trig.Stop(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	a.log.Info("stopped")
	return runErr
}
