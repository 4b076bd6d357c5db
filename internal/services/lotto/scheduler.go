package lotto

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/lotto_layer/internal/system"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler auto-closes due rounds on a cron schedule. Closing stays
// permissionless through the API; the scheduler only saves rounds from
// waiting for an external caller.
type Scheduler struct {
	service  *Service
	log      *logger.Logger
	schedule string

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler constructs a scheduler driving the given service.
func NewScheduler(service *Service, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("lotto-scheduler")
	}
	return &Scheduler{
		service:  service,
		log:      log,
		schedule: "@every 1m",
	}
}

// WithSchedule overrides the cron expression.
func (s *Scheduler) WithSchedule(spec string) {
	if spec != "" {
		s.schedule = spec
	}
}

func (s *Scheduler) Name() string { return "lotto-scheduler" }

func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	runner := cron.New()
	if _, err := runner.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	runner.Start()
	s.cron = runner

	s.log.WithField("schedule", s.schedule).Info("lotto scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.mu.Unlock()

	if runner == nil {
		return nil
	}

	select {
	case <-runner.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("lotto scheduler stopped")
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if closed := s.service.CloseDue(ctx); len(closed) > 0 {
		s.log.WithField("rounds", closed).Info("auto-closed due rounds")
	}
}
