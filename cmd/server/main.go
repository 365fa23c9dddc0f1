package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pollchat/internal/config"
	"pollchat/internal/domain"
	"pollchat/internal/files"
	"pollchat/internal/httpserver"
	"pollchat/internal/logging"
	"pollchat/internal/security"
	"pollchat/internal/service"
	"pollchat/internal/store/postgres"
	"pollchat/internal/store/sqlite"
)

// @title           pollchat API
// @version         1.0
// @description     Polling based messaging API: send, poll, recall and conversation state.

// @host            localhost:8000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Debug)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	db, store, perms, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("driver", cfg.DBDriver).Msg("database ready")

	mode, err := service.ParseRecallMode(cfg.RecallMode)
	if err != nil {
		return err
	}
	recall := service.NewRecallPolicy(cfg.RecallWindow, mode)
	limits := service.Limits{
		HistoryDefault: cfg.HistoryDefaultLimit,
		HistoryMax:     cfg.HistoryMaxLimit,
		PollMaxBatch:   cfg.PollMaxBatch,
	}

	uploads := files.NewLocal(cfg.UploadDir)
	router := httpserver.NewRouter(httpserver.Deps{
		Config:        cfg,
		Log:           log,
		Tokens:        security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL()),
		Users:         store.Users(),
		Messages:      service.NewMessageService(store, perms, uploads, recall, limits, log),
		Feed:          service.NewFeedService(store, perms, limits, log),
		Conversations: service.NewConversationService(store, perms, log),
		Files:         uploads,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr()).Str("recall_mode", string(mode)).
			Dur("recall_window", cfg.RecallWindow).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg *config.Config) (*sql.DB, domain.Store, domain.Permissions, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, postgres.NewStore(db), postgres.NewPermissionRepo(db), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, sqlite.NewStore(db), sqlite.NewPermissionRepo(db), nil
	}
}
