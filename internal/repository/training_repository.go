package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/phishguard-backend/internal/model"
)

// TrainingRepositoryInterface is what remediation needs from the training store.
type TrainingRepositoryInterface interface {
	CreateFailure(ctx context.Context, f *model.TrainingFailure) (bool, error)
	CountFailures(ctx context.Context, campaignID int) (int, error)
	GetModule(ctx context.Context, id int) (*model.TrainingModule, error)
	ListActiveModules(ctx context.Context) ([]model.TrainingModule, error)
	ResetInProgress(ctx context.Context, userID int, category string, at time.Time) (int64, error)
	ReassignIfAbsent(ctx context.Context, userID, moduleID int, at time.Time) (bool, error)
}

type TrainingRepository struct {
	DB *sql.DB
}

// CreateFailure stores one failure per target. A second call for the same
// target is a no-op and returns false.
func (r *TrainingRepository) CreateFailure(ctx context.Context, f *model.TrainingFailure) (bool, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO training_failures (id, user_id, campaign_id, target_id, category, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (target_id) DO NOTHING
	`, f.ID, f.UserID, f.CampaignID, f.TargetID, f.Category, f.Status, f.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *TrainingRepository) CountFailures(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_failures WHERE campaign_id=$1`, campaignID).Scan(&n)
	return n, err
}

// GetModule returns nil, nil when the module does not exist.
func (r *TrainingRepository) GetModule(ctx context.Context, id int) (*model.TrainingModule, error) {
	var m model.TrainingModule
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, title, category, active FROM training_modules WHERE id=$1`, id,
	).Scan(&m.ID, &m.Title, &m.Category, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *TrainingRepository) ListActiveModules(ctx context.Context) ([]model.TrainingModule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, title, category, active FROM training_modules WHERE active=TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modules := []model.TrainingModule{}
	for rows.Next() {
		var m model.TrainingModule
		if err := rows.Scan(&m.ID, &m.Title, &m.Category, &m.Active); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ResetInProgress sends the user's in-progress sessions for modules of the
// given category back to the start.
func (r *TrainingRepository) ResetInProgress(ctx context.Context, userID int, category string, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE training_sessions s
		SET status=$1, progress=0, updated_at=$2
		FROM training_modules m
		WHERE s.module_id=m.id AND s.user_id=$3 AND s.status=$4 AND m.category=$5
	`, model.SessionNotStarted, at, userID, model.SessionInProgress, category)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReassignIfAbsent creates a reassigned session unless one already exists
// for (user, module). The partial unique index backs the NOT EXISTS guard
// under concurrency.
func (r *TrainingRepository) ReassignIfAbsent(ctx context.Context, userID, moduleID int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO training_sessions (id, user_id, module_id, status, progress, created_at, updated_at)
		SELECT $1::uuid, $2::int, $3::int, $4::text, 0, $5::timestamptz, $5::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM training_sessions WHERE user_id=$2 AND module_id=$3 AND status=$4
		)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), userID, moduleID, model.SessionReassigned, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ TrainingRepositoryInterface = (*TrainingRepository)(nil)
