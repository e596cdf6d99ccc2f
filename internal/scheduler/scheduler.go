// Package scheduler runs the periodic sweep that starts scheduled campaigns.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Promoter activates campaigns whose scheduled start has passed.
type Promoter interface {
	PromoteDueCampaigns(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron     *cron.Cron
	promoter Promoter
	logger   *zap.Logger
	timeout  time.Duration
}

// New registers the sweep on the given cron spec ("@every 1m", "*/5 * * * *").
func New(spec string, p Promoter, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		promoter: p,
		logger:   logger,
		timeout:  time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Sweep promotes due campaigns once.
func (s *Scheduler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.promoter.PromoteDueCampaigns(ctx)
	if err != nil {
		s.logger.Error("scheduled campaign sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("scheduled campaigns started", zap.Int("count", n))
	}
}
