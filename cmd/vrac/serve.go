package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/api"
	"vrac/internal/auth"
	"vrac/internal/cleanup"
	"vrac/internal/files"
	"vrac/internal/logging"
	"vrac/internal/tokens"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background cleanup task",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	tokensSvc := tokens.NewService(a.store, a.writes)
	filesSvc := files.NewService(a.store)
	ingestor := files.NewIngestor(a.store, a.writes, a.root)
	authSvc := auth.NewService(a.store, a.writes)
	reaper := cleanup.NewReaper(a.store, a.writes, a.root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reaper.Run(ctx, a.cfg.CleanupInterval)

	handler := api.NewHandler(tokensSvc, filesSvc, ingestor, authSvc)

	var finalHandler http.Handler = handler
	if !a.cfg.Dev {
		finalHandler = api.RateLimit(api.DefaultRateLimitConfig())(finalHandler)
		logging.Internal.Info("rate limiting enabled")
	}
	finalHandler = api.Logger(finalHandler)
	finalHandler = api.RequestID(finalHandler)

	server := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: finalHandler,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Errorw("shutdown error", "error", err)
		}
	}()

	logging.Internal.Infow("starting server",
		"addr", a.cfg.Addr, "db", a.cfg.DBPath, "root", a.cfg.RootPath)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
