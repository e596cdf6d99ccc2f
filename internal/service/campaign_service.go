package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/queue"
	"github.com/unclebandit/phishguard-backend/internal/repository"
)

// CampaignService drives the campaign lifecycle.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	UserRepo     repository.UserRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Queue        queue.Queue
	Logger       *zap.Logger
	BaseURL      string
	Now          func() time.Time
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Launch activates the campaign and queues dispatch to its unsent targets.
// Launching an already active campaign only queues dispatch again, which
// reaches targets whose earlier delivery failed.
func (s *CampaignService) Launch(ctx context.Context, campaignID int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusActive {
		if c, err = s.transition(ctx, c, model.StatusActive); err != nil {
			return nil, err
		}
	}

	if err := s.Queue.Publish(queue.TopicDispatch, model.DispatchJob{CampaignID: campaignID}); err != nil {
		return c, fmt.Errorf("campaign %d is active but dispatch was not queued: %w", campaignID, err)
	}
	s.Logger.Info("campaign launched", zap.Int("campaign_id", campaignID))
	return c, nil
}

func (s *CampaignService) Pause(ctx context.Context, campaignID int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.StatusPaused)
}

func (s *CampaignService) Complete(ctx context.Context, campaignID int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.StatusCompleted)
}

// transition applies one edge of the status table. The store update is
// conditional on the status we read, so a concurrent change loses cleanly.
func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, to model.CampaignStatus) (*model.Campaign, error) {
	invalid := &appErrors.InvalidTransitionError{CampaignID: c.ID, From: string(c.Status), To: string(to)}
	if !c.Status.CanTransition(to) {
		return nil, invalid
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, c.Status, to, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid
	}
	s.Logger.Info("campaign status changed",
		zap.Int("campaign_id", c.ID),
		zap.String("from", string(c.Status)),
		zap.String("to", string(to)))
	return s.CampaignRepo.GetByID(ctx, c.ID)
}

// Delete removes a campaign that is not currently running.
func (s *CampaignService) Delete(ctx context.Context, campaignID int) error {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.StatusActive {
		return appErrors.NewValidation("campaign %d is active; pause or complete it first", campaignID)
	}
	return s.CampaignRepo.Delete(ctx, campaignID)
}

// PromoteDueCampaigns activates scheduled campaigns whose start time has
// passed and queues their dispatch. Safe to run on several replicas.
func (s *CampaignService) PromoteDueCampaigns(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.CampaignRepo.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		ok, err := s.CampaignRepo.TransitionStatus(ctx, id, model.StatusScheduled, model.StatusActive, now)
		if err != nil {
			s.Logger.Warn("promote failed", zap.Int("campaign_id", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		promoted++
		if err := s.Queue.Publish(queue.TopicDispatch, model.DispatchJob{CampaignID: id}); err != nil {
			s.Logger.Error("dispatch not queued for promoted campaign", zap.Int("campaign_id", id), zap.Error(err))
		}
	}
	return promoted, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, kind, status string) ([]model.Campaign, map[string]int, error) {
	if kind != "" {
		if _, err := model.ParseCampaignKind(kind); err != nil {
			return nil, nil, appErrors.NewValidation("unknown kind %q", kind)
		}
	}
	if status != "" {
		if _, err := model.ParseCampaignStatus(status); err != nil {
			return nil, nil, appErrors.NewValidation("unknown status %q", status)
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, kind, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// RenderPreview renders the campaign's message for one user without a real
// tracking token.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, userID int) (*model.Message, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	user, err := s.UserRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, appErrors.NewValidation("user %d does not exist", userID)
	}
	tpl, err := s.TemplateRepo.GetByID(ctx, campaign.TemplateID)
	if err != nil {
		return nil, err
	}

	msg := RenderMessage(campaign.Kind, tpl, user, &model.Target{Token: "preview"}, s.BaseURL)
	return &msg, nil
}
