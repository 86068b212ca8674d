package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const emailLogColumns = `id, campaign_id, recipient_email, recipient_name, status, message_id, error_message,
	retry_count, sent_at, claimed_at, created_at, updated_at`

type EmailLogRepository struct {
	DB *sqlx.DB
}

func NewEmailLogRepository(db *sqlx.DB) *EmailLogRepository {
	return &EmailLogRepository{DB: db}
}

// Materialize inserts the recipient rows and stamps resolved_at in one transaction. The campaign row
// lock serializes concurrent starts; whoever comes second sees resolved_at and returns the stored total.
func (r *EmailLogRepository) Materialize(ctx context.Context, campaignID string, recipients []model.Recipient, at time.Time) (int, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.NewInternal(err, "begin materialize")
	}
	defer tx.Rollback()

	var state struct {
		ResolvedAt  *time.Time `db:"resolved_at"`
		TotalEmails int        `db:"total_emails"`
	}
	err = tx.GetContext(ctx, &state, `SELECT resolved_at, total_emails FROM email_campaigns WHERE id=$1 FOR UPDATE`, campaignID)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return 0, appErrors.NewInternal(err, "lock campaign %s", campaignID)
	}
	if state.ResolvedAt != nil {
		return state.TotalEmails, nil
	}

	emails := make([]string, len(recipients))
	names := make([]sql.NullString, len(recipients))
	for i, rc := range recipients {
		emails[i] = rc.Email
		if rc.Name != nil {
			names[i] = sql.NullString{String: *rc.Name, Valid: true}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO email_logs (campaign_id, recipient_email, recipient_name, status, created_at, updated_at)
		SELECT $1, t.email, t.name, 'pending', $4, $4
		FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS t(email, name, ord)
		ORDER BY t.ord
		ON CONFLICT DO NOTHING`,
		campaignID, pq.Array(emails), pq.Array(names), at)
	if err != nil {
		return 0, appErrors.NewInternal(err, "insert email logs for %s", campaignID)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, appErrors.NewInternal(err, "insert email logs for %s", campaignID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE email_campaigns SET total_emails=$2, resolved_at=$3, updated_at=$3 WHERE id=$1`,
		campaignID, inserted, at)
	if err != nil {
		return 0, appErrors.NewInternal(err, "stamp resolution for %s", campaignID)
	}

	if err := tx.Commit(); err != nil {
		return 0, appErrors.NewInternal(err, "commit materialize")
	}
	return int(inserted), nil
}

// ClaimPending locks the campaign row, so claims for one campaign serialize on its send budget
// across processes. SKIP LOCKED keeps the claimed rows disjoint from stale-claim sweeps.
func (r *EmailLogRepository) ClaimPending(ctx context.Context, campaignID string, claim Claim) ([]*model.EmailLog, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.NewInternal(err, "begin claim")
	}
	defer tx.Rollback()

	var emptyAt *time.Time
	err = tx.GetContext(ctx, &emptyAt, `SELECT rate_empty_at FROM email_campaigns WHERE id=$1 FOR UPDATE`, campaignID)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return nil, appErrors.NewInternal(err, "lock campaign %s", campaignID)
	}

	logs := []*model.EmailLog{}
	limit := claim.Size(emptyAt)
	if limit <= 0 {
		return logs, nil
	}

	query := `
		UPDATE email_logs SET status='sending', claimed_at=$3, updated_at=$3
		WHERE id IN (
			SELECT id FROM email_logs
			WHERE campaign_id=$1
			  AND (status='pending' OR (status='sending' AND claimed_at < $4))
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + emailLogColumns
	if err := tx.SelectContext(ctx, &logs, query, campaignID, limit, claim.Now, claim.StaleBefore); err != nil {
		return nil, appErrors.NewInternal(err, "claim pending logs for %s", campaignID)
	}
	if len(logs) == 0 {
		return logs, nil
	}

	next := claim.Budget.Charge(emptyAt, len(logs), claim.Now)
	if _, err := tx.ExecContext(ctx, `UPDATE email_campaigns SET rate_empty_at=$2 WHERE id=$1`, campaignID, next); err != nil {
		return nil, appErrors.NewInternal(err, "charge send budget for %s", campaignID)
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.NewInternal(err, "commit claim")
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID < logs[j].ID })
	return logs, nil
}

func (r *EmailLogRepository) MarkSent(ctx context.Context, id int64, messageID string, at time.Time) error {
	return r.finish(ctx, id, `
		UPDATE email_logs SET status='sent', message_id=$2, sent_at=$3, error_message=NULL,
			claimed_at=NULL, updated_at=$3
		WHERE id=$1 AND status='sending'
		RETURNING campaign_id`,
		`UPDATE email_campaigns SET sent_emails=sent_emails+1, updated_at=$2 WHERE id=$1`,
		messageID, at)
}

func (r *EmailLogRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.finish(ctx, id, `
		UPDATE email_logs SET status='failed', error_message=$2, retry_count=retry_count+1,
			claimed_at=NULL, updated_at=$3
		WHERE id=$1 AND status='sending'
		RETURNING campaign_id`,
		`UPDATE email_campaigns SET failed_emails=failed_emails+1, updated_at=$2 WHERE id=$1`,
		reason, at)
}

// finish applies a terminal row write and its counter bump atomically.
func (r *EmailLogRepository) finish(ctx context.Context, id int64, logQuery, counterQuery, arg string, at time.Time) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.NewInternal(err, "begin finish log %d", id)
	}
	defer tx.Rollback()

	var campaignID string
	err = tx.GetContext(ctx, &campaignID, logQuery, id, arg, at)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewConflict("email log %d is not claimed", id)
	}
	if err != nil {
		return appErrors.NewInternal(err, "finish log %d", id)
	}
	if _, err := tx.ExecContext(ctx, counterQuery, campaignID, at); err != nil {
		return appErrors.NewInternal(err, "bump counters for %s", campaignID)
	}
	if err := tx.Commit(); err != nil {
		return appErrors.NewInternal(err, "commit finish log %d", id)
	}
	return nil
}

func (r *EmailLogRepository) Requeue(ctx context.Context, id int64, reason string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_logs SET status='pending', error_message=$2, retry_count=retry_count+1,
			claimed_at=NULL, updated_at=$3
		WHERE id=$1 AND status='sending'`, id, reason, at)
	if err != nil {
		return appErrors.NewInternal(err, "requeue log %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewConflict("email log %d is not claimed", id)
	}
	return nil
}

func (r *EmailLogRepository) Release(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE email_logs SET status='pending', claimed_at=NULL, updated_at=$2
		WHERE id = ANY($1) AND status='sending'`, pq.Array(ids), at)
	if err != nil {
		return appErrors.NewInternal(err, "release %d logs", len(ids))
	}
	return nil
}

func (r *EmailLogRepository) CountByStatus(ctx context.Context, campaignID string) (model.LogCounts, error) {
	var counts model.LogCounts
	err := r.DB.GetContext(ctx, &counts, `
		SELECT COUNT(*) FILTER (WHERE status='pending') AS pending,
		       COUNT(*) FILTER (WHERE status='sending') AS sending,
		       COUNT(*) FILTER (WHERE status='sent')    AS sent,
		       COUNT(*) FILTER (WHERE status='failed')  AS failed
		FROM email_logs WHERE campaign_id=$1`, campaignID)
	if isInvalidUUID(err) {
		return model.LogCounts{}, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return model.LogCounts{}, appErrors.NewInternal(err, "count logs for %s", campaignID)
	}
	return counts, nil
}

func (r *EmailLogRepository) ListByCampaign(ctx context.Context, campaignID string, offset, limit int) ([]*model.EmailLog, int, error) {
	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM email_logs WHERE campaign_id=$1`, campaignID); err != nil {
		if isInvalidUUID(err) {
			return nil, 0, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, 0, appErrors.NewInternal(err, "count logs for %s", campaignID)
	}

	logs := []*model.EmailLog{}
	err := r.DB.SelectContext(ctx, &logs,
		`SELECT `+emailLogColumns+` FROM email_logs WHERE campaign_id=$1 ORDER BY id LIMIT $2 OFFSET $3`,
		campaignID, limit, offset)
	if err != nil {
		return nil, 0, appErrors.NewInternal(err, "list logs for %s", campaignID)
	}
	return logs, total, nil
}

var _ EmailLogRepositoryInterface = (*EmailLogRepository)(nil)
