package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type staleExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ExpirySweeper periodically cancels pending enrollments that never got paid.
type ExpirySweeper struct {
	expirer  staleExpirer
	schedule string
	ttl      time.Duration
	batch    int
	timeout  time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time
}

// NewExpirySweeper builds a sweeper on a cron schedule such as "@every 1h".
func NewExpirySweeper(expirer staleExpirer, schedule string, ttl time.Duration, batch int, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpirySweeper{
		expirer:  expirer,
		schedule: schedule,
		ttl:      ttl,
		batch:    batch,
		timeout:  time.Minute,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the job and starts the scheduler.
func (s *ExpirySweeper) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("expiry sweeper started", zap.String("schedule", s.schedule), zap.Duration("pending_ttl", s.ttl))
	return nil
}

// Stop halts the scheduler and waits for a running sweep.
func (s *ExpirySweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce expires one batch and returns how many enrollments changed.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.expirer.ExpireStale(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Time("cutoff", cutoff), zap.Int("expired", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("stale enrollments expired", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
