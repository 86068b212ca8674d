package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const campaignColumns = `id, name, subject, template, status, target_audience, custom_email_list, emails_per_hour,
	total_emails, sent_emails, failed_emails, scheduled_at, started_at, completed_at, cancelled_at, resolved_at,
	rate_empty_at, created_by, created_at, updated_at`

type CampaignRepository struct {
	DB *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{DB: db}
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.CustomEmailList == nil {
		c.CustomEmailList = pq.StringArray{}
	}

	query := `
		INSERT INTO email_campaigns (id, name, subject, template, status, target_audience, custom_email_list,
			emails_per_hour, scheduled_at, created_by, created_at, updated_at)
		VALUES (:id, :name, :subject, :template, :status, :target_audience, :custom_email_list,
			:emails_per_hour, :scheduled_at, :created_by, :created_at, :updated_at)
	`
	_, err := r.DB.NamedExecContext(ctx, query, c)
	if isUniqueViolation(err) {
		return appErrors.NewConflict("campaign with name %q already exists", c.Name)
	}
	if err != nil {
		return appErrors.NewInternal(err, "create campaign")
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM email_campaigns WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return nil, appErrors.NewInternal(err, "get campaign %s", id)
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		where += ` AND status=$1`
		args = append(args, status)
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM email_campaigns`+where, args...); err != nil {
		return nil, 0, appErrors.NewInternal(err, "count campaigns")
	}

	query := `SELECT ` + campaignColumns + ` FROM email_campaigns` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	campaigns := []*model.Campaign{}
	if err := r.DB.SelectContext(ctx, &campaigns, query, args...); err != nil {
		return nil, 0, appErrors.NewInternal(err, "list campaigns")
	}
	return campaigns, total, nil
}

// ====================== Status transitions ======================

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, change StatusChange) (*model.Campaign, error) {
	query := `
		UPDATE email_campaigns SET
			status = $2,
			started_at   = CASE WHEN $2 = 'active'    THEN COALESCE(started_at, $4) ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $4 ELSE completed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancelled_at END,
			updated_at = $4
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + campaignColumns

	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, query, id, string(change.To), pq.Array(change.from()), change.At)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !isInvalidUUID(err) {
		return nil, appErrors.NewInternal(err, "update campaign %s status", id)
	}

	current, gerr := r.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, appErrors.NewConflict("cannot move campaign from %s to %s", current.Status, change.To)
}

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	err := r.DB.SelectContext(ctx, &campaigns, `
		SELECT `+campaignColumns+` FROM email_campaigns
		WHERE status = 'draft' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at, id`, now)
	if err != nil {
		return nil, appErrors.NewInternal(err, "list due campaigns")
	}
	return campaigns, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	err := r.DB.SelectContext(ctx, &campaigns,
		`SELECT `+campaignColumns+` FROM email_campaigns WHERE status=$1 ORDER BY created_at, id`, status)
	if err != nil {
		return nil, appErrors.NewInternal(err, "list %s campaigns", status)
	}
	return campaigns, nil
}

// SyncCounters recomputes the cached counters from the campaign's email logs.
func (r *CampaignRepository) SyncCounters(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
		UPDATE email_campaigns c SET
			sent_emails   = l.sent,
			failed_emails = l.failed,
			total_emails  = CASE WHEN c.resolved_at IS NULL THEN c.total_emails ELSE l.total END,
			updated_at    = NOW()
		FROM (
			SELECT COUNT(*) FILTER (WHERE status = 'sent')   AS sent,
			       COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			       COUNT(*)                                  AS total
			FROM email_logs WHERE campaign_id = $1
		) l
		WHERE c.id = $1
		RETURNING ` + prefixed("c", campaignColumns)

	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return nil, appErrors.NewInternal(err, "sync campaign %s counters", id)
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
