package model

import "time"

const (
	FailurePendingTraining   = "pending_training"
	FailureCompletedTraining = "completed_training"
)

const (
	SessionNotStarted = "not_started"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionReassigned = "reassigned"
)

type TrainingFailure struct {
	ID         string    `db:"id" json:"id"`
	UserID     int       `db:"user_id" json:"user_id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	TargetID   int       `db:"target_id" json:"target_id"`
	Category   string    `db:"category" json:"category"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type TrainingModule struct {
	ID       int    `db:"id" json:"id"`
	Title    string `db:"title" json:"title"`
	Category string `db:"category" json:"category"`
	Active   bool   `db:"active" json:"active"`
}

type TrainingSession struct {
	ID        string    `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ModuleID  int       `db:"module_id" json:"module_id"`
	Status    string    `db:"status" json:"status"`
	Progress  int       `db:"progress" json:"progress"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RemediationReport records which orchestration steps failed; nil means success.
type RemediationReport struct {
	Token      string
	CampaignID int
	Steps      map[string]error
}

func (r RemediationReport) Failed() []string {
	var out []string
	for name, err := range r.Steps {
		if err != nil {
			out = append(out, name)
		}
	}
	return out
}
