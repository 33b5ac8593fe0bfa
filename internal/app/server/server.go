package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"spendguard/internal/api"
	"spendguard/internal/config"
	"spendguard/internal/listener"
)

// Run serves run triggers over HTTP, and over LISTEN/NOTIFY when the
// ledger lives in Postgres, until SIGINT or SIGTERM.
func Run(cfg config.Config) error {
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps, err := Wire(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	runs := NewRuns(rootCtx, deps.Runner.Run)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(api.NewRunHandler(runs)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if deps.Pool != nil {
		go listener.ListenAndTrigger(rootCtx, deps.Pool, cfg.Listener.Channel, cfg.Backoff(), runs.Request)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Ledger.Backend).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err = <-errCh:
		log.Error().Err(err).Msg("server crashed")
	}
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel()
	_ = srv.Shutdown(shCtx)
	runs.Wait()
	return err
}
