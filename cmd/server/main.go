package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/config"
	"github.com/DoyleJ11/planning-poker/internal/httpapi"
	"github.com/DoyleJ11/planning-poker/internal/logging"
	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/internal/store/memstore"
	"github.com/DoyleJ11/planning-poker/internal/store/pgstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(st, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, pgstore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		if cfg.SweepInterval > 0 {
			go sweep(ctx, pg, cfg.SweepInterval, log)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				log.Warn("close postgres", zap.Error(err))
			}
		}, nil
	default:
		mem := memstore.New(ctx, memstore.WithLogger(log))
		return mem, mem.Close, nil
	}
}

// sweep removes sessions nobody opened again after they expired.
func sweep(ctx context.Context, pg *pgstore.Store, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.Sweep(ctx, poker.Collection, time.Now().Add(-poker.ExpiryWindow))
			if err != nil {
				log.Warn("sweep expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("swept expired sessions", zap.Int("count", n))
			}
		}
	}
}
