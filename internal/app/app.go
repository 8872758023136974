// Package app assembles the pay-in-3 components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wpshiftstudio/payin3/internal/cache"
	"github.com/wpshiftstudio/payin3/internal/checkout"
	"github.com/wpshiftstudio/payin3/internal/config"
	"github.com/wpshiftstudio/payin3/internal/database"
	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
	"github.com/wpshiftstudio/payin3/internal/orders"
	"github.com/wpshiftstudio/payin3/internal/planner"
	"github.com/wpshiftstudio/payin3/internal/scheduler"
	"github.com/wpshiftstudio/payin3/internal/webhook"
	"github.com/wpshiftstudio/payin3/internal/websocket"
)

const (
	tickLockKey = "scheduler:tick"
	// tickLockTTL is renewed while a tick runs and bounds a crashed holder
	tickLockTTL = 30 * time.Second
)

// App holds every long-lived component of the service
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *database.DB
	Cache   *cache.Client
	Store   ledger.Store
	Orders  orders.Book
	Gateway gateway.Gateway
	// Mock is set when no remote provider is configured
	Mock *gateway.MockProvider
	// Provider is set when GATEWAY_URL points at a remote provider
	Provider  *gateway.Client
	Hub       *websocket.Hub
	Events    events.Publisher
	Metrics   *metrics.Collector
	Planner   *planner.Planner
	Scheduler *scheduler.Scheduler
	Checkout  *checkout.Service
	Verifier  *webhook.Verifier
}

// New connects to the configured backing services. An empty DATABASE_URL,
// REDIS_URL, GATEWAY_URL or STOREFRONT_URL selects the in-process
// implementation for that concern.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New("payin3"),
	}

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = ledger.NewPostgresStore(db)
		log.Info("database connection established")
	} else {
		a.Store = ledger.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	if cfg.RedisURL != "" {
		c, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cache = c
		log.Info("redis connection established")
	}

	if cfg.GatewayURL != "" {
		a.Provider = gateway.NewClient(cfg.GatewayID, cfg.GatewayURL, cfg.GatewayAPIKey, cfg.ChargeTimeout)
		a.Gateway = gateway.WithTimeout(a.Provider, cfg.ChargeTimeout)
	} else {
		a.Mock = gateway.NewMockProvider()
		a.Gateway = gateway.WithTimeout(a.Mock, cfg.ChargeTimeout)
		log.Warn("GATEWAY_URL not set, using built-in mock provider")
	}

	if cfg.StorefrontURL != "" {
		a.Orders = orders.NewHTTPBook(cfg.StorefrontURL, cfg.GatewayAPIKey, 10*time.Second)
	} else {
		a.Orders = orders.NewMemoryBook()
		log.Warn("STOREFRONT_URL not set, using in-memory order book")
	}

	a.Hub = websocket.NewHub(log.Named("pay-in-3-events"), cfg.AllowedOrigins...)
	publishers := events.Multi{a.Hub}
	if cfg.EventsURL != "" {
		publishers = append(publishers, events.NewAsync(events.NewHTTPPublisher(cfg.EventsURL), log))
	}
	a.Events = publishers

	a.Planner = planner.New(cfg.SecondInstallmentOffset, cfg.ThirdInstallmentOffset, cfg.GatewayID)

	executor := scheduler.NewExecutor(scheduler.Deps{
		Store:   a.Store,
		Orders:  a.Orders,
		Gateway: a.Gateway,
		Events:  a.Events,
		Metrics: a.Metrics,
		Logger:  log.Named("pay-in-3-cron"),
		Policy:  scheduler.RetryPolicy{MaxRetries: cfg.MaxRetries},
		Workers: cfg.TickWorkers,
	})
	a.Scheduler = scheduler.New(a.Store, executor, a.tickLock(), scheduler.Config{
		TickInterval: cfg.TickInterval,
		BatchSize:    cfg.BatchSize,
	}, log.Named("pay-in-3-cron"))

	a.Checkout = checkout.NewService(checkout.Settings{
		Enabled:   cfg.GatewayEnabled,
		MinOrder:  checkout.MoneyFromFloat(cfg.MinOrder),
		MaxOrder:  checkout.MoneyFromFloat(cfg.MaxOrder),
		ReturnURL: cfg.ReturnURL,
	}, a.Store, a.Orders, a.Gateway, a.Planner, checkout.Options{
		Events:  a.Events,
		Metrics: a.Metrics,
		Logger:  log.Named("pay-in-3-checkout"),
	})

	if cfg.WebhookSecret != "" {
		v, err := webhook.NewVerifier(cfg.WebhookSecret, cfg.ReplayWindow, a.idempotencyStore(), log.Named("pay-in-3-webhook"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Verifier = v
	} else {
		log.Warn("WEBHOOK_SECRET not set, webhook endpoint disabled")
	}

	return a, nil
}

func (a *App) tickLock() scheduler.TickLock {
	local := &scheduler.LocalTickLock{}
	if a.Cache == nil {
		return local
	}
	return scheduler.ChainLock{local, scheduler.NewRedisTickLock(a.Cache, tickLockKey, tickLockTTL)}
}

func (a *App) idempotencyStore() webhook.IdempotencyStore {
	if a.Cache != nil {
		return webhook.NewRedisStore(a.Cache)
	}
	return webhook.NewMemoryStore(a.Config.ReplayWindow)
}

// Migrate creates the ledger tables. It requires a database.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return errors.New("DATABASE_URL is required")
	}
	if err := ledger.EnsureSchema(ctx, a.DB.Conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the backing connections
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close database", "error", err)
		}
	}
}
