package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

// TargetRepositoryInterface covers per-recipient tracking rows.
type TargetRepositoryInterface interface {
	ListByCampaign(ctx context.Context, campaignID int) ([]*model.Target, error)
	ListUnsent(ctx context.Context, campaignID int) ([]*model.Target, error)
	GetByToken(ctx context.Context, tok string) (*model.Target, error)
	CountByCampaign(ctx context.Context, campaignID int) (int, error)
	ReplaceRecipients(ctx context.Context, campaignID int, userIDs []int, mint token.Minter) (added, removed int, err error)
	RecordEvent(ctx context.Context, tok string, event model.EventKind, meta *model.ClickMeta, at time.Time) (*model.Transition, error)
}

type TargetRepository struct {
	DB *sql.DB
}

const targetColumns = `id, campaign_id, user_id, token, sent, sent_at, opened, opened_at,
	clicked, clicked_at, submitted, submitted_at, click_ip, click_user_agent, created_at`

func scanTarget(row rowScanner) (*model.Target, error) {
	var t model.Target
	err := row.Scan(
		&t.ID, &t.CampaignID, &t.UserID, &t.Token,
		&t.Sent, &t.SentAt, &t.Opened, &t.OpenedAt,
		&t.Clicked, &t.ClickedAt, &t.Submitted, &t.SubmittedAt,
		&t.ClickIP, &t.ClickUserAgent, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TargetRepository) list(ctx context.Context, query string, args ...any) ([]*model.Target, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := []*model.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *TargetRepository) ListByCampaign(ctx context.Context, campaignID int) ([]*model.Target, error) {
	return r.list(ctx, `SELECT `+targetColumns+` FROM targets WHERE campaign_id=$1 ORDER BY id`, campaignID)
}

func (r *TargetRepository) ListUnsent(ctx context.Context, campaignID int) ([]*model.Target, error) {
	return r.list(ctx, `SELECT `+targetColumns+` FROM targets WHERE campaign_id=$1 AND sent=FALSE ORDER BY id`, campaignID)
}

func (r *TargetRepository) GetByToken(ctx context.Context, tok string) (*model.Target, error) {
	t, err := scanTarget(r.DB.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE token=$1`, tok))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrTargetNotFound
	}
	return t, err
}

func (r *TargetRepository) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM targets WHERE campaign_id=$1`, campaignID).Scan(&n)
	return n, err
}

// ReplaceRecipients makes the campaign's target set equal to userIDs. Removed
// recipients lose their row and token; new ones get a freshly minted token.
// The campaign row is locked so a concurrent launch cannot interleave.
func (r *TargetRepository) ReplaceRecipients(ctx context.Context, campaignID int, userIDs []int, mint token.Minter) (int, int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin replace recipients: %w", err)
	}
	defer tx.Rollback()

	var status model.CampaignStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, campaignID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return 0, 0, err
	}
	if !status.Editable() {
		return 0, 0, appErrors.NewValidation("recipients of a %s campaign cannot be changed", status)
	}

	ids := make([]int64, len(userIDs))
	for i, id := range userIDs {
		ids[i] = int64(id)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM targets WHERE campaign_id=$1 AND NOT (user_id = ANY($2))`, campaignID, pq.Array(ids))
	if err != nil {
		return 0, 0, fmt.Errorf("delete removed recipients: %w", err)
	}
	removed, _ := res.RowsAffected()

	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM targets WHERE campaign_id=$1`, campaignID)
	if err != nil {
		return 0, 0, err
	}
	existing := map[int]bool{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, err
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	added := 0
	for _, userID := range userIDs {
		if existing[userID] {
			continue
		}
		if _, err := insertTarget(ctx, tx, campaignID, userID, mint); err != nil {
			return 0, 0, err
		}
		existing[userID] = true
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit replace recipients: %w", err)
	}
	return added, int(removed), nil
}

// insertTarget mints a token and inserts the target, minting again when the
// token collides with an existing one.
func insertTarget(ctx context.Context, tx *sql.Tx, campaignID, userID int, mint token.Minter) (*model.Target, error) {
	query := `
		INSERT INTO targets (campaign_id, user_id, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
		RETURNING id, created_at
	`
	for attempt := 1; attempt <= token.MaxAttempts; attempt++ {
		tok, err := mint()
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		t := &model.Target{CampaignID: campaignID, UserID: userID, Token: tok}
		err = tx.QueryRowContext(ctx, query, campaignID, userID, tok).Scan(&t.ID, &t.CreatedAt)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return nil, appErrors.NewValidation("user %d is already a recipient of campaign %d", userID, campaignID)
			}
			return nil, fmt.Errorf("insert target: %w", err)
		}
	}
	return nil, fmt.Errorf("insert target for user %d: token collided %d times", userID, token.MaxAttempts)
}

// eventColumns maps an event to its flag, timestamp and campaign counter
// columns. Only these literal names ever reach the SQL text.
func eventColumns(e model.EventKind) (flag, at, counter string, err error) {
	switch e {
	case model.EventSent:
		return "sent", "sent_at", "sent_count", nil
	case model.EventOpened:
		return "opened", "opened_at", "opened_count", nil
	case model.EventClicked:
		return "clicked", "clicked_at", "clicked_count", nil
	case model.EventSubmitted:
		return "submitted", "submitted_at", "submitted_count", nil
	}
	return "", "", "", fmt.Errorf("unknown event %q", e)
}

// RecordEvent flips the event's flag only if it is still false and bumps the
// campaign counter in the same transaction. Exactly one concurrent caller per
// (token, event) sees OutcomeApplied.
func (r *TargetRepository) RecordEvent(ctx context.Context, tok string, event model.EventKind, meta *model.ClickMeta, at time.Time) (*model.Transition, error) {
	flag, atCol, counter, err := eventColumns(event)
	if err != nil {
		return nil, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record event: %w", err)
	}
	defer tx.Rollback()

	args := []any{tok, at}
	set := fmt.Sprintf("%s=TRUE, %s=$2", flag, atCol)
	if event == model.EventClicked && meta != nil {
		set += ", click_ip=$3, click_user_agent=$4"
		args = append(args, meta.IP, meta.UserAgent)
	}
	guard := ""
	if event == model.EventSubmitted {
		guard = " AND c.kind='phishing'"
	}
	query := fmt.Sprintf(`
		UPDATE targets t SET %s
		FROM campaigns c
		WHERE t.token=$1 AND t.%s=FALSE AND c.id=t.campaign_id%s
		RETURNING t.id, t.campaign_id, t.user_id, c.kind
	`, set, flag, guard)

	tr := &model.Transition{Event: event, Token: tok, At: at}
	err = tx.QueryRowContext(ctx, query, args...).Scan(&tr.TargetID, &tr.CampaignID, &tr.UserID, &tr.CampaignKind)
	if errors.Is(err, sql.ErrNoRows) {
		return r.classifyMiss(ctx, tx, tr)
	}
	if err != nil {
		return nil, fmt.Errorf("update target flag: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %[1]s=%[1]s+1 WHERE id=$1`, counter), tr.CampaignID); err != nil {
		return nil, fmt.Errorf("increment %s: %w", counter, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record event: %w", err)
	}
	tr.Outcome = model.OutcomeApplied
	return tr, nil
}

// classifyMiss explains why the conditional update touched no row.
func (r *TargetRepository) classifyMiss(ctx context.Context, tx *sql.Tx, tr *model.Transition) (*model.Transition, error) {
	err := tx.QueryRowContext(ctx, `
		SELECT t.id, t.campaign_id, t.user_id, c.kind
		FROM targets t JOIN campaigns c ON c.id=t.campaign_id
		WHERE t.token=$1
	`, tr.Token).Scan(&tr.TargetID, &tr.CampaignID, &tr.UserID, &tr.CampaignKind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		tr.Outcome = model.OutcomeNotFound
	case err != nil:
		return nil, fmt.Errorf("lookup target: %w", err)
	case tr.Event == model.EventSubmitted && tr.CampaignKind == model.KindAd:
		tr.Outcome = model.OutcomeIgnored
	default:
		tr.Outcome = model.OutcomeDuplicate
	}
	return tr, nil
}

var _ TargetRepositoryInterface = (*TargetRepository)(nil)
