// Package app is the composition root: it selects the storage backend, builds
// every component, and runs the bot until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/access"
	"github.com/whisperlane/whisperbot/bot/audit"
	"github.com/whisperlane/whisperbot/bot/delivery"
	"github.com/whisperlane/whisperbot/bot/flow"
	"github.com/whisperlane/whisperbot/bot/moderation"
	"github.com/whisperlane/whisperbot/bot/outbound"
	"github.com/whisperlane/whisperbot/bot/session"
	bottelegram "github.com/whisperlane/whisperbot/bot/telegram"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/database"
	"github.com/whisperlane/whisperbot/core/logger"
	coretelegram "github.com/whisperlane/whisperbot/core/telegram"
)

// Run starts the bot and blocks until ctx is cancelled or a fatal error.
func Run(ctx context.Context, cfg *coreconfig.Config) error {
	if err := logger.InitLogger(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var (
		store    session.Store
		verifier access.Verifier
		recorder audit.Recorder
		db       *sqlx.DB
	)

	switch cfg.Storage.Backend {
	case coreconfig.BackendMemory:
		logger.Info(ctx, "app", "storage", slog.String("backend", "memory"))
		store = session.NewMemoryStore(cfg.Flow.SessionTTL)
		verifier = access.NewStatic(cfg.Access.StaticTokens)
		if cfg.Audit.TestMode {
			recorder = audit.NewMemory()
		}

	default:
		logger.Info(ctx, "app", "storage", slog.String("backend", "postgres"))
		if err := database.RunMigrations(cfg.Database); err != nil {
			return err
		}
		var err error
		db, err = database.Connect(cfg.Database)
		if err != nil {
			return err
		}

		pg := session.NewPostgresStore(db, cfg.Flow.SessionTTL)
		pg.StartCleaner(ctx, 10*time.Minute)
		store = pg
		verifier = access.NewPostgres(db)
		if cfg.Audit.TestMode {
			rec := audit.NewPostgres(db, cfg.Audit.TTL)
			rec.StartCleaner(ctx, time.Hour)
			recorder = rec
		}
	}

	var scorer moderation.Scorer
	if cfg.Moderation.Enabled {
		scorer = moderation.NewBlocklist(cfg.Moderation.Blocklist)
	}

	wiring := bottelegram.NewWiring(verifier)

	return coretelegram.Run(ctx, coretelegram.RunOptions{
		Config:      cfg,
		Middlewares: bottelegram.Middlewares(cfg),
		Routes:      wiring.Routes(),
		OnBot: func(b *tele.Bot) error {
			client := outbound.New(b, outbound.Options{})
			pipeline := delivery.New(client, cfg.Telegram.AdminChatID, cfg.Flow.Categories, cfg.Flow.Topics, recorder)
			wiring.Bind(flow.New(flow.Config{
				Categories:        cfg.Flow.Categories,
				Topics:            cfg.Flow.Topics,
				QuietWindow:       cfg.Flow.QuietWindow,
				OpenBurstPolicy:   cfg.Flow.OpenBurstPolicy,
				ModerationEnabled: cfg.Moderation.Enabled,
			}, store, scorer, client, pipeline))
			return nil
		},
		OnStart: func(ctx context.Context) error {
			logger.Info(ctx, "app", "started",
				slog.String("run_mode", cfg.Telegram.RunMode),
				slog.Int("categories", len(cfg.Flow.Categories)),
				slog.Int("topics", len(cfg.Flow.Topics)),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn(ctx, "app", "db.close.fail", slog.String("err", err.Error()))
				}
			}
			logger.Info(ctx, "app", "stopped")
			return nil
		},
	})
}
