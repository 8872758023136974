package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/logger"
)

func main() {
	log := logger.New("mock-provider")
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8101"
	}
	delay := 250 * time.Millisecond
	if v := os.Getenv("RESPONSE_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	provider := gateway.NewMockProvider()
	provider.SetFailureRate(0.20)
	server := NewServer(provider, delay, log)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("mock provider shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		close(done)
	}()

	log.Info("mock provider starting", "port", port, "failure_rate", "20%", "response_time", delay.String())
	log.Info("admin endpoints: POST /admin/set-failure-rate?rate=50, POST /admin/toggle-status, GET /admin/stats")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("could not listen", "port", port, "error", err)
	}

	<-done
	log.Info("mock provider stopped")
}
