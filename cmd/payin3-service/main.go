package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wpshiftstudio/payin3/internal/app"
	"github.com/wpshiftstudio/payin3/internal/config"
	"github.com/wpshiftstudio/payin3/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("payin3-service").Fatal("failed to load configuration", "error", err)
	}

	log := logger.NewWithOptions("payin3-service", logger.Options{
		FilePath: cfg.LogFile,
		Level:    cfg.LogLevel,
		JSON:     !cfg.IsDevelopment(),
	})
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialise service", "error", err)
	}
	defer a.Close()

	if a.DB != nil {
		if err := a.Migrate(ctx); err != nil {
			log.Warn("failed to ensure ledger schema", "error", err)
		}
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	go a.Hub.Run(hubCtx)

	handler := NewHandler(a)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	a.Scheduler.Start()

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("server is shutting down")

		// The scheduler finishes its in-flight tick first.
		a.Scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("could not gracefully shut down the server", "error", err)
		}
		stopHub()
		close(done)
	}()

	log.Info("payin3 service starting", "port", cfg.Port, "environment", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("could not listen", "port", cfg.Port, "error", err)
	}

	<-done
	log.Info("server stopped")
}
