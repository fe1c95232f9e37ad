package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"consentd/internal/config"
	"consentd/internal/infra/db"
	httpinfra "consentd/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	srv := httpinfra.NewServer(cfg, store)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("consentd listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := srv.RunBackground(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
