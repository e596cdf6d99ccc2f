package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/metrics"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/notify"
	"github.com/unclebandit/phishguard-backend/internal/repository"
)

const (
	StepRecordFailure    = "record_failure"
	StepNotifyRecipient  = "notify_recipient"
	StepResetTraining    = "reset_training"
	StepNotifyAdmins     = "notify_admins"
	StepReassignTraining = "reassign_training"
)

const defaultCategory = "general"

// Orchestrator runs the remediation fan-out for one winning phishing click.
// Steps are independent: a failing step is logged and the rest still run.
type Orchestrator struct {
	CampaignRepo repository.CampaignRepositoryInterface
	UserRepo     repository.UserRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	TrainingRepo repository.TrainingRepositoryInterface
	Notifier     notify.Notifier
	Logger       *zap.Logger
	Now          func() time.Time
}

type remediation struct {
	task     model.RemediationTask
	user     *model.User
	userErr  error
	campaign *model.Campaign
	campErr  error
	category string
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Run executes every step and reports which ones failed. It never panics and
// never returns an error; callers must not retry it.
func (o *Orchestrator) Run(ctx context.Context, task model.RemediationTask) model.RemediationReport {
	rem := o.load(ctx, task)

	steps := []struct {
		name string
		fn   func(context.Context, *remediation) error
	}{
		{StepRecordFailure, o.recordFailure},
		{StepNotifyRecipient, o.notifyRecipient},
		{StepResetTraining, o.resetTraining},
		{StepNotifyAdmins, o.notifyAdmins},
		{StepReassignTraining, o.reassignTraining},
	}

	report := model.RemediationReport{
		Token:      task.Token,
		CampaignID: task.CampaignID,
		Steps:      make(map[string]error, len(steps)),
	}
	for _, st := range steps {
		report.Steps[st.name] = o.runStep(ctx, rem, st.name, st.fn)
	}
	return report
}

func (o *Orchestrator) runStep(ctx context.Context, rem *remediation, name string, fn func(context.Context, *remediation) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		result := "ok"
		if err != nil {
			result = "failed"
			o.Logger.Error("remediation step failed",
				zap.String("token", rem.task.Token),
				zap.Int("campaign_id", rem.task.CampaignID),
				zap.String("step", name),
				zap.Error(err))
		}
		metrics.RemediationSteps.WithLabelValues(name, result).Inc()
	}()
	return fn(ctx, rem)
}

func (o *Orchestrator) load(ctx context.Context, task model.RemediationTask) *remediation {
	rem := &remediation{task: task, category: defaultCategory}

	rem.user, rem.userErr = o.UserRepo.GetByID(ctx, task.UserID)
	if rem.userErr == nil && rem.user == nil {
		rem.userErr = fmt.Errorf("recipient %d not found", task.UserID)
	}

	rem.campaign, rem.campErr = o.CampaignRepo.GetByID(ctx, task.CampaignID)
	if rem.campErr == nil {
		tpl, err := o.TemplateRepo.GetByID(ctx, rem.campaign.TemplateID)
		if err != nil {
			o.Logger.Warn("template lookup failed, using default category",
				zap.Int("campaign_id", task.CampaignID), zap.Error(err))
		} else if tpl.Category != "" {
			rem.category = tpl.Category
		}
	}
	return rem
}

func (o *Orchestrator) recordFailure(ctx context.Context, rem *remediation) error {
	created, err := o.TrainingRepo.CreateFailure(ctx, &model.TrainingFailure{
		UserID:     rem.task.UserID,
		CampaignID: rem.task.CampaignID,
		TargetID:   rem.task.TargetID,
		Category:   rem.category,
		Status:     model.FailurePendingTraining,
		CreatedAt:  o.now(),
	})
	if err != nil {
		return err
	}
	if !created {
		o.Logger.Info("training failure already recorded", zap.Int("target_id", rem.task.TargetID))
	}
	return nil
}

func (o *Orchestrator) notifyRecipient(ctx context.Context, rem *remediation) error {
	if rem.userErr != nil {
		return rem.userErr
	}
	return o.Notifier.Notify(ctx, recipientNotice(rem))
}

func (o *Orchestrator) resetTraining(ctx context.Context, rem *remediation) error {
	n, err := o.TrainingRepo.ResetInProgress(ctx, rem.task.UserID, rem.category, o.now())
	if err != nil {
		return err
	}
	if n > 0 {
		o.Logger.Info("in-progress training reset",
			zap.Int("user_id", rem.task.UserID),
			zap.String("category", rem.category),
			zap.Int64("sessions", n))
	}
	return nil
}

func (o *Orchestrator) notifyAdmins(ctx context.Context, rem *remediation) error {
	admins, err := o.UserRepo.ListSuperAdmins(ctx)
	if err != nil {
		return fmt.Errorf("list super admins: %w", err)
	}
	if rem.user != nil && rem.user.OrganizationID != nil {
		orgAdmins, err := o.UserRepo.ListOrgAdmins(ctx, *rem.user.OrganizationID)
		if err != nil {
			return fmt.Errorf("list org admins: %w", err)
		}
		admins = append(admins, orgAdmins...)
	}

	var errs []error
	for _, admin := range DedupeByEmail(admins) {
		if err := o.Notifier.Notify(ctx, adminNotice(admin, rem)); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", admin.Email, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) reassignTraining(ctx context.Context, rem *remediation) error {
	if rem.campErr != nil {
		return rem.campErr
	}

	var moduleIDs []int
	if rem.campaign.RemediationModuleID != nil {
		moduleIDs = []int{*rem.campaign.RemediationModuleID}
	} else {
		modules, err := o.TrainingRepo.ListActiveModules(ctx)
		if err != nil {
			return fmt.Errorf("list active modules: %w", err)
		}
		for _, m := range modules {
			moduleIDs = append(moduleIDs, m.ID)
		}
	}

	var errs []error
	for _, id := range moduleIDs {
		if _, err := o.TrainingRepo.ReassignIfAbsent(ctx, rem.task.UserID, id, o.now()); err != nil {
			errs = append(errs, fmt.Errorf("module %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// DedupeByEmail keeps the first user per case-insensitive address and drops
// users without one.
func DedupeByEmail(users []model.User) []model.User {
	seen := make(map[string]bool, len(users))
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		key := strings.ToLower(strings.TrimSpace(u.Email))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out
}

func campaignName(rem *remediation) string {
	if rem.campaign != nil {
		return rem.campaign.Name
	}
	return fmt.Sprintf("#%d", rem.task.CampaignID)
}

func recipientNotice(rem *remediation) model.Notification {
	text := fmt.Sprintf(
		"Hi %s,\n\nThe link you opened was part of a simulated phishing exercise (%s). "+
			"No harm was done. Remedial security training has been assigned to you; please complete it soon.\n",
		rem.user.FirstName, campaignName(rem))
	return model.Notification{
		To:      rem.user.Email,
		ToName:  rem.user.FullName(),
		Subject: "Security awareness: training assigned",
		Text:    text,
	}
}

func adminNotice(admin model.User, rem *remediation) model.Notification {
	who := fmt.Sprintf("user #%d", rem.task.UserID)
	if rem.user != nil {
		who = fmt.Sprintf("%s <%s>", rem.user.FullName(), rem.user.Email)
	}
	text := fmt.Sprintf(
		"%s clicked a simulated phishing link in campaign %s at %s. Remedial training has been assigned.\n",
		who, campaignName(rem), rem.task.ClickedAt.Format(time.RFC3339))
	return model.Notification{
		To:      admin.Email,
		ToName:  admin.FullName(),
		Subject: "Phishing simulation: recipient clicked",
		Text:    text,
	}
}
