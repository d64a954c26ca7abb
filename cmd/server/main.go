package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"presenced/internal/config"
	"presenced/internal/github"
	"presenced/internal/relay"
	"presenced/internal/service"
	"presenced/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)

	var (
		accountsSvc *service.AccountService
		linksSvc    *service.LinkService
		prefsSvc    *service.PrefsService
		dbPing      func(context.Context) error
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(context.Background(), cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := postgres.EnsureSchema(context.Background(), pgPool); err != nil {
			logger.Error("schema bootstrap failed", "err", err)
			os.Exit(1)
		}

		identities := postgres.NewIdentitiesStore(pgPool)
		relationships := postgres.NewRelationshipsStore(pgPool)
		invites := postgres.NewInvitesStore(pgPool)
		connections := postgres.NewConnectionsStore(pgPool)
		preferences := postgres.NewPreferencesStore(pgPool)
		aliases := postgres.NewAliasesStore(pgPool)

		accountsSvc = &service.AccountService{
			Identities:    identities,
			Relationships: relationships,
		}
		linksSvc = &service.LinkService{
			Invites:     invites,
			Connections: connections,
			Aliases:     aliases,
			InviteTTL:   cfg.InviteTTL,
		}
		prefsSvc = &service.PrefsService{Store: preferences}
		dbPing = pgPool.Ping
	} else {
		logger.Warn("no db configured, running without persistence features")
	}

	relaySrv := relay.NewServer(relay.ServerOpts{
		Logger:            logger,
		Accounts:          accountsSvc,
		Links:             linksSvc,
		Prefs:             prefsSvc,
		Provider:          github.NewClient(cfg.GitHubAPIURL),
		DBPing:            dbPing,
		HeartbeatInterval: cfg.HeartbeatInterval,
		BroadcastDebounce: cfg.BroadcastDebounce,
	})
	relaySrv.Start()
	defer relaySrv.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relaySrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
