package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/metrics"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/queue"
	"github.com/unclebandit/phishguard-backend/internal/repository"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

// Recorder applies tracking events to targets. Every counter change in the
// system goes through Record.
type Recorder struct {
	TargetRepo repository.TargetRepositoryInterface
	Queue      queue.Queue
	Logger     *zap.Logger
	Now        func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Record attempts the one-way flag transition for event on the token's target.
// Duplicates, unknown tokens and submits on ad targets are outcomes, not errors.
func (r *Recorder) Record(ctx context.Context, tok string, event model.EventKind, meta *model.ClickMeta) (model.Outcome, error) {
	if !token.Valid(tok) {
		metrics.TrackingEvents.WithLabelValues(string(event), string(model.OutcomeNotFound)).Inc()
		return model.OutcomeNotFound, nil
	}

	tr, err := r.TargetRepo.RecordEvent(ctx, tok, event, meta, r.now())
	if err != nil {
		metrics.TrackingEvents.WithLabelValues(string(event), "error").Inc()
		return "", fmt.Errorf("record %s: %w", event, err)
	}
	metrics.TrackingEvents.WithLabelValues(string(event), string(tr.Outcome)).Inc()

	if tr.Outcome == model.OutcomeApplied {
		r.Logger.Debug("event applied",
			zap.String("event", string(event)),
			zap.Int("campaign_id", tr.CampaignID),
			zap.Int("target_id", tr.TargetID))

		if event == model.EventClicked && tr.CampaignKind == model.KindPhishing {
			r.enqueueRemediation(tr)
		}
	}
	return tr.Outcome, nil
}

func (r *Recorder) enqueueRemediation(tr *model.Transition) {
	task := model.RemediationTask{
		Token:      tr.Token,
		TargetID:   tr.TargetID,
		CampaignID: tr.CampaignID,
		UserID:     tr.UserID,
		ClickedAt:  tr.At,
	}
	if err := r.Queue.Publish(queue.TopicRemediation, task); err != nil {
		r.Logger.Error("remediation not queued",
			zap.String("token", tr.Token),
			zap.Int("campaign_id", tr.CampaignID),
			zap.String("step", "enqueue"),
			zap.Error(err))
	}
}
