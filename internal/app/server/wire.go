package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"spendguard/internal/config"
	"spendguard/internal/messenger"
	"spendguard/internal/platform"
	"spendguard/internal/profile"
	"spendguard/internal/runner"
	"spendguard/internal/storage"
)

// Deps is everything a run needs, built from the configuration.
type Deps struct {
	Runner *runner.Runner
	Store  storage.Store
	// Pool is set for the postgres backend only.
	Pool  *pgxpool.Pool
	close func()
}

func (d *Deps) Close() {
	if d.close != nil {
		d.close()
	}
}

// Wire builds the ledger store, the platform factory and the messenger.
func Wire(ctx context.Context, cfg config.Config) (*Deps, error) {
	d := &Deps{}
	switch cfg.Ledger.Backend {
	case config.BackendPostgres:
		pg, err := storage.NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		d.Store, d.Pool, d.close = pg, pg.PgxPool(), pg.Close
	case config.BackendFile:
		d.Store = storage.NewFileStore(cfg.UsersRoot, cfg.Location())
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	platforms := func(acc profile.Account) runner.Platform {
		return platform.New(platform.Options{
			BaseURL:       cfg.Platform.BaseURL,
			Token:         acc.Token,
			RatePerSecond: cfg.Platform.RatePerSecond,
			Burst:         cfg.Platform.Burst,
			Timeout:       cfg.PlatformTimeout(),
			MaxRetries:    cfg.Platform.MaxRetries,
			DryRun:        cfg.DryRun,
		})
	}

	var msg runner.Messenger
	if cfg.Telegram.BotToken != "" {
		msg = messenger.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.DryRun, nil)
	} else {
		log.Warn().Msg("telegram bot token not set; digests are not delivered")
	}

	d.Runner = runner.New(runner.Options{
		UsersRoot:      cfg.UsersRoot,
		MaxDisables:    cfg.MaxDisablesPerRun,
		NotifyInterval: cfg.NotifyInterval(),
		Location:       cfg.Location(),
		DryRun:         cfg.DryRun,
	}, d.Store, platforms, msg)
	return d, nil
}
