package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	CreateWithTargets(ctx context.Context, c *model.Campaign, userIDs []int, mint token.Minter) ([]*model.Target, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error)
	Delete(ctx context.Context, id int) error

	// Lifecycle
	TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]int, error)

	// Aggregates
	TotalCounters(ctx context.Context) (model.Counters, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, kind, status, template_id, remediation_module_id, scheduled_at,
	sent_count, opened_count, clicked_count, submitted_count,
	created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var moduleID sql.NullInt64
	err := row.Scan(
		&c.ID, &c.Name, &c.Kind, &c.Status, &c.TemplateID, &moduleID, &c.ScheduledAt,
		&c.Counters.Sent, &c.Counters.Opened, &c.Counters.Clicked, &c.Counters.Submitted,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if moduleID.Valid {
		id := int(moduleID.Int64)
		c.RemediationModuleID = &id
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

// CreateWithTargets inserts the campaign and one target per user in a single
// transaction. Either every target gets a token or nothing is stored.
func (r *CampaignRepository) CreateWithTargets(ctx context.Context, c *model.Campaign, userIDs []int, mint token.Minter) ([]*model.Target, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create campaign: %w", err)
	}
	defer tx.Rollback()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO campaigns (name, kind, status, template_id, remediation_module_id, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		c.Name, c.Kind, c.Status, c.TemplateID, c.RemediationModuleID, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}

	targets := make([]*model.Target, 0, len(userIDs))
	for _, userID := range userIDs {
		t, err := insertTarget(ctx, tx, c.ID, userID, mint)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create campaign: %w", err)
	}
	return targets, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if kind != "" {
		where += fmt.Sprintf(" AND kind=$%d", argPos)
		args = append(args, kind)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// Delete removes the campaign; targets and training failures go with it.
func (r *CampaignRepository) Delete(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// ====================== Lifecycle ======================

// TransitionStatus moves a campaign from one status to another only if it is
// still in the expected status. It returns false when someone else got there first.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1,
			updated_at=$2,
			started_at=CASE WHEN $1='active' AND started_at IS NULL THEN $2 ELSE started_at END,
			completed_at=CASE WHEN $1='completed' THEN $2 ELSE completed_at END
		WHERE id=$3 AND status=$4
	`
	res, err := r.DB.ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status='scheduled' AND scheduled_at <= $1 ORDER BY scheduled_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ====================== Aggregates ======================

func (r *CampaignRepository) TotalCounters(ctx context.Context) (model.Counters, error) {
	var c model.Counters
	query := `
		SELECT COALESCE(SUM(sent_count),0), COALESCE(SUM(opened_count),0),
			   COALESCE(SUM(clicked_count),0), COALESCE(SUM(submitted_count),0)
		FROM campaigns
	`
	err := r.DB.QueryRowContext(ctx, query).Scan(&c.Sent, &c.Opened, &c.Clicked, &c.Submitted)
	return c, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
