package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/repository"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

// RegistryService creates campaigns together with their tracking targets.
type RegistryService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TargetRepo   repository.TargetRepositoryInterface
	UserRepo     repository.UserRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	TrainingRepo repository.TrainingRepositoryInterface
	Mint         token.Minter
	Logger       *zap.Logger
	Now          func() time.Time
}

type CreateCampaignInput struct {
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	TemplateID          int        `json:"template_id"`
	RemediationModuleID *int       `json:"remediation_module_id,omitempty"`
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	RecipientIDs        []int      `json:"recipient_ids"`
}

type RecipientChange struct {
	CampaignID int `json:"campaign_id"`
	Added      int `json:"added"`
	Removed    int `json:"removed"`
	Total      int `json:"total"`
}

func (s *RegistryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *RegistryService) mint() token.Minter {
	if s.Mint != nil {
		return s.Mint
	}
	return token.New
}

// CreateCampaign validates the input and stores the campaign with one target
// per recipient. The result is scheduled when a start time is given, else draft.
func (s *RegistryService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, int, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, 0, appErrors.NewValidation("name is required")
	}
	kind, err := model.ParseCampaignKind(in.Kind)
	if err != nil {
		return nil, 0, appErrors.NewValidation("kind must be phishing or ad")
	}
	recipients, err := s.validRecipients(ctx, in.RecipientIDs)
	if err != nil {
		return nil, 0, err
	}

	tpl, err := s.TemplateRepo.GetByID(ctx, in.TemplateID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, 0, appErrors.NewValidation("template %d does not exist", in.TemplateID)
		}
		return nil, 0, err
	}
	if tpl.Kind != kind {
		return nil, 0, appErrors.NewValidation("template %d is for %s campaigns", tpl.ID, tpl.Kind)
	}

	if in.RemediationModuleID != nil {
		m, err := s.TrainingRepo.GetModule(ctx, *in.RemediationModuleID)
		if err != nil {
			return nil, 0, err
		}
		if m == nil || !m.Active {
			return nil, 0, appErrors.NewValidation("remediation module %d is not an active module", *in.RemediationModuleID)
		}
	}

	now := s.now()
	status := model.StatusDraft
	if in.ScheduledAt != nil {
		if !in.ScheduledAt.After(now) {
			return nil, 0, appErrors.NewValidation("scheduled_at must be in the future")
		}
		status = model.StatusScheduled
	}

	c := &model.Campaign{
		Name:                name,
		Kind:                kind,
		Status:              status,
		TemplateID:          tpl.ID,
		RemediationModuleID: in.RemediationModuleID,
		ScheduledAt:         in.ScheduledAt,
		CreatedAt:           now,
	}
	targets, err := s.CampaignRepo.CreateWithTargets(ctx, c, recipients, s.mint())
	if err != nil {
		return nil, 0, err
	}

	s.Logger.Info("campaign created",
		zap.Int("campaign_id", c.ID),
		zap.String("kind", string(kind)),
		zap.String("status", string(status)),
		zap.Int("targets", len(targets)))
	return c, len(targets), nil
}

// UpdateRecipients replaces the recipient list of a draft or scheduled campaign.
func (s *RegistryService) UpdateRecipients(ctx context.Context, campaignID int, userIDs []int) (*RecipientChange, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, appErrors.NewValidation("recipients of a %s campaign cannot be changed", c.Status)
	}
	recipients, err := s.validRecipients(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	added, removed, err := s.TargetRepo.ReplaceRecipients(ctx, campaignID, recipients, s.mint())
	if err != nil {
		return nil, err
	}
	s.Logger.Info("recipients updated",
		zap.Int("campaign_id", campaignID),
		zap.Int("added", added),
		zap.Int("removed", removed))
	return &RecipientChange{CampaignID: campaignID, Added: added, Removed: removed, Total: len(recipients)}, nil
}

// validRecipients de-duplicates ids and checks every one names a user.
func (s *RegistryService) validRecipients(ctx context.Context, ids []int) ([]int, error) {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, appErrors.NewValidation("invalid recipient id %d", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, appErrors.NewValidation("recipient list is empty")
	}

	found, err := s.UserRepo.ExistingIDs(ctx, out)
	if err != nil {
		return nil, err
	}
	if len(found) != len(out) {
		known := make(map[int]bool, len(found))
		for _, id := range found {
			known[id] = true
		}
		for _, id := range out {
			if !known[id] {
				return nil, appErrors.NewValidation("recipient %d does not exist", id)
			}
		}
	}
	return out, nil
}
