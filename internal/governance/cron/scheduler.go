package cronjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coophabitat/finance-engine/internal/governance/service"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

// DefaultSchedule ticks at the top of every hour.
const DefaultSchedule = "0 0 * * * *"

// Ticker runs one pass over open agreements.
type Ticker interface {
	TickAll(ctx context.Context) (service.TickReport, error)
}

// Scheduler ticks open rent-to-own trials on a cron schedule (seconds field
// included).
type Scheduler struct {
	ticker   Ticker
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewScheduler(ticker Ticker, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{ticker: ticker, schedule: schedule, timeout: 5 * time.Minute}
}

// Start registers the tick job and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("failed to create cron job %q: %w", s.schedule, err)
	}

	slog.Info("cron scheduler started", "schedule", s.schedule)
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the runner and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	slog.Info("cron scheduler stopped")
}

// RunOnce performs a single tick pass. Overlapping calls are dropped.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = logger.WithCorrelationID(ctx, "tick-"+time.Now().UTC().Format("20060102T150405"))
	log := logger.New(ctx)

	report, err := s.ticker.TickAll(ctx)
	if err != nil {
		log.LogError("scheduled_tick", err)
		return
	}
	log.LogInfof("scheduled_tick", "tick completed: %d checked, %d changed", report.Checked, report.Changed)
}
