package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/metrics"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/notify"
	"github.com/unclebandit/phishguard-backend/internal/repository"
)

const defaultDispatchTimeout = 10 * time.Second

// DispatchService renders messages and hands them to the delivery channel.
// A target is marked sent only after the channel confirms delivery.
type DispatchService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TargetRepo   repository.TargetRepositoryInterface
	UserRepo     repository.UserRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Channel      notify.Channel
	Recorder     *Recorder
	Logger       *zap.Logger

	BaseURL     string
	Timeout     time.Duration
	Concurrency int
	Limiter     *rate.Limiter // nil means unthrottled
}

type DispatchResult struct {
	CampaignID int `json:"campaign_id"`
	Attempted  int `json:"attempted"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Send renders and transmits one message within the dispatch timeout.
// There is no retry; a timeout is a failure.
func (s *DispatchService) Send(ctx context.Context, kind model.CampaignKind, target *model.Target, user *model.User, tpl *model.Template) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := RenderMessage(kind, tpl, user, target, s.BaseURL)

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Channel.Send(ctx, msg) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := "ok"
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		result = "failed"
		if timedOut {
			result = "timeout"
		}
		err = &appErrors.DispatchError{TargetID: target.ID, Timeout: timedOut, Err: err}
	}
	metrics.DispatchTotal.WithLabelValues(result).Inc()
	metrics.DispatchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

// DispatchTarget sends to one target and, on success only, records the sent event.
func (s *DispatchService) DispatchTarget(ctx context.Context, c *model.Campaign, tpl *model.Template, t *model.Target) error {
	if t.Sent {
		return nil
	}
	user, err := s.UserRepo.GetByID(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", t.UserID, err)
	}
	if user == nil {
		return fmt.Errorf("recipient %d not found", t.UserID)
	}

	if err := s.Send(ctx, c.Kind, t, user, tpl); err != nil {
		return err
	}

	outcome, err := s.Recorder.Record(ctx, t.Token, model.EventSent, nil)
	if err != nil {
		return fmt.Errorf("delivered but sent flag not recorded: %w", err)
	}
	if outcome == model.OutcomeDuplicate {
		s.Logger.Debug("target already marked sent", zap.Int("target_id", t.ID))
	}
	return nil
}

// DispatchCampaign sends to every unsent target of an active campaign using a
// bounded worker pool. The status is re-read before each target, so pausing or
// completing the campaign stops further sends.
func (s *DispatchService) DispatchCampaign(ctx context.Context, campaignID int) (*DispatchResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusActive {
		return nil, appErrors.NewValidation("campaign %d is %s, not active", campaignID, c.Status)
	}
	tpl, err := s.TemplateRepo.GetByID(ctx, c.TemplateID)
	if err != nil {
		return nil, err
	}
	targets, err := s.TargetRepo.ListUnsent(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list unsent targets: %w", err)
	}

	result := &DispatchResult{CampaignID: campaignID}
	if len(targets) == 0 {
		return result, nil
	}

	workers := s.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		stopped bool
	)
	jobs := make(chan *model.Target)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				mu.Lock()
				halt := stopped
				mu.Unlock()
				if halt {
					continue
				}
				if !s.stillActive(ctx, campaignID) {
					mu.Lock()
					stopped = true
					mu.Unlock()
					continue
				}
				if s.Limiter != nil {
					if err := s.Limiter.Wait(ctx); err != nil {
						continue
					}
				}

				err := s.DispatchTarget(ctx, c, tpl, t)

				mu.Lock()
				result.Attempted++
				if err != nil {
					result.Failed++
				} else {
					result.Sent++
				}
				mu.Unlock()

				if err != nil {
					s.Logger.Warn("dispatch failed",
						zap.Int("campaign_id", campaignID),
						zap.Int("target_id", t.ID),
						zap.Error(err))
				}
			}
		}()
	}

feed:
	for _, t := range targets {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	result.Skipped = len(targets) - result.Attempted
	s.Logger.Info("campaign dispatched",
		zap.Int("campaign_id", campaignID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *DispatchService) stillActive(ctx context.Context, campaignID int) bool {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		s.Logger.Warn("campaign status check failed", zap.Int("campaign_id", campaignID), zap.Error(err))
		return false
	}
	return c.Status == model.StatusActive
}
