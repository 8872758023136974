// Package scheduler finds due installments on a fixed cadence and charges them
// under a bounded retry policy.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
)

// Config controls the tick loop
type Config struct {
	TickInterval time.Duration
	BatchSize    int
}

// Status is a snapshot of the scheduler for operators
type Status struct {
	Running       bool         `json:"running"`
	LastRun       *time.Time   `json:"last_run,omitempty"`
	NextRun       *time.Time   `json:"next_run,omitempty"`
	ProcessedLast int          `json:"processed_last"`
	TickInterval  string       `json:"tick_interval"`
	LastResult    *BatchResult `json:"last_result,omitempty"`
}

// Scheduler drives the executor on a ticker
type Scheduler struct {
	store    ledger.Store
	executor *Executor
	lock     TickLock
	config   Config
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *logger.Logger
	now      func() time.Time

	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	lastRun       *time.Time
	nextRun       *time.Time
	processedLast int
	lastResult    *BatchResult
}

func New(store ledger.Store, executor *Executor, lock TickLock, config Config, log *logger.Logger) *Scheduler {
	if lock == nil {
		lock = &LocalTickLock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		lock:     lock,
		config:   config,
		events:   executor.events,
		metrics:  executor.metrics,
		logger:   log,
		now:      executor.now,
	}
}

// Start begins the background tick loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	s.logger.Info("starting scheduler", "tick_interval", s.config.TickInterval.String(), "batch_size", s.config.BatchSize)

	s.wg.Add(1)
	go s.run(stopCh)
}

// Stop ends the loop after any in-flight tick finishes
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("stopping scheduler, waiting for current tick to complete")
	close(stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.setNextRun()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Ticks are not cancelled by Stop: each transition must be persisted.
			if _, err := s.RunTick(context.Background()); err != nil {
				s.logger.Warn("scheduled tick did not run", "error", err)
			}
			s.setNextRun()
		}
	}
}

func (s *Scheduler) setNextRun() {
	next := s.now().Add(s.config.TickInterval)
	s.mu.Lock()
	s.nextRun = &next
	s.mu.Unlock()
}

// RunTick handles every due installment once. It returns ErrTickInProgress
// when another tick holds the lock.
func (s *Scheduler) RunTick(ctx context.Context) (*BatchResult, error) {
	release, ok, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	if !ok {
		return nil, ErrTickInProgress
	}
	defer release()

	now := s.now()
	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()

	due, err := s.store.DueInstallments(ctx, now, s.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load due installments: %w", err)
	}

	if len(due) == 0 {
		s.logger.Info("Cron: No installments currently due.")
		result := &BatchResult{}
		s.finish(result, 0)
		return result, nil
	}

	s.logger.Info(fmt.Sprintf("Cron: Found %d installments to process.", len(due)))
	s.publish(ctx, events.SchedulerTickStarted, events.TickEventData{Processed: len(due)})

	result := s.executor.ExecuteBatch(ctx, due)
	s.finish(result, len(due))

	s.logger.Info("Cron: Finished daily installment processing.",
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
		"escalated", result.Escalated,
		"skipped", result.Skipped,
		"duration", result.Duration.String())
	s.publish(ctx, events.SchedulerTickCompleted, events.TickEventData{
		Processed:  result.Processed,
		Successful: result.Successful,
		Failed:     result.Failed,
		Escalated:  result.Escalated,
		Skipped:    result.Skipped,
		Duration:   result.Duration.String(),
	})
	return result, nil
}

// TriggerManual runs a tick immediately, outside the ticker cadence
func (s *Scheduler) TriggerManual(ctx context.Context) (*BatchResult, error) {
	s.logger.Info("manual scheduler trigger initiated")
	return s.RunTick(ctx)
}

func (s *Scheduler) finish(result *BatchResult, due int) {
	s.metrics.RecordTick(result.Duration, due)
	s.mu.Lock()
	s.processedLast = result.Processed
	s.lastResult = result
	s.mu.Unlock()
}

func (s *Scheduler) publish(ctx context.Context, name string, data events.TickEventData) {
	if err := s.events.Publish(ctx, events.TypeScheduler, name, data); err != nil {
		s.logger.Warn("failed to publish scheduler event", "event", name, "error", err)
	}
}

// Status returns the current scheduler status
func (s *Scheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:       s.running,
		LastRun:       s.lastRun,
		NextRun:       s.nextRun,
		ProcessedLast: s.processedLast,
		TickInterval:  s.config.TickInterval.String(),
		LastResult:    s.lastResult,
	}
}

// IsRunning returns whether the tick loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
