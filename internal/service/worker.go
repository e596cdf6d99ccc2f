package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/queue"
)

const (
	dispatchJobTimeout    = 30 * time.Minute
	remediationRunTimeout = 2 * time.Minute
)

// StartDispatchSubscriber runs DispatchCampaign for each queued job. Only
// failures that happen before any message is sent are returned to the queue
// for retry.
func StartDispatchSubscriber(q queue.Queue, d *DispatchService) error {
	return q.Subscribe(queue.TopicDispatch, func(payload any) error {
		var job model.DispatchJob
		if err := queue.Decode(payload, &job); err != nil {
			d.Logger.Error("invalid dispatch job", zap.Error(err))
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchJobTimeout)
		defer cancel()

		_, err := d.DispatchCampaign(ctx, job.CampaignID)
		var verr *appErrors.ValidationError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &verr), appErrors.IsNotFound(err):
			d.Logger.Info("dispatch job dropped", zap.Int("campaign_id", job.CampaignID), zap.Error(err))
			return nil
		default:
			return err
		}
	})
}

// atMostOnceSubscriber is implemented by brokers that can ack a delivery
// before handing it over.
type atMostOnceSubscriber interface {
	SubscribeAtMostOnce(topic string, handler func(payload any) error) error
}

// StartRemediationSubscriber runs the orchestrator once per queued task.
// Tasks are acked on receipt when the broker supports it, so a worker that
// dies mid-run drops the task instead of notifying the user twice.
func StartRemediationSubscriber(q queue.Queue, o *Orchestrator) error {
	subscribe := q.Subscribe
	if amo, ok := q.(atMostOnceSubscriber); ok {
		subscribe = amo.SubscribeAtMostOnce
	}
	return subscribe(queue.TopicRemediation, func(payload any) error {
		var task model.RemediationTask
		if err := queue.Decode(payload, &task); err != nil {
			o.Logger.Error("invalid remediation task", zap.Error(err))
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), remediationRunTimeout)
		defer cancel()

		report := o.Run(ctx, task)
		if failed := report.Failed(); len(failed) > 0 {
			o.Logger.Warn("remediation finished with failures",
				zap.String("token", task.Token),
				zap.Int("campaign_id", task.CampaignID),
				zap.Strings("steps", failed))
		}
		return nil
	})
}
