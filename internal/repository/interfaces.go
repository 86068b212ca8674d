package repository

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/ratelimit"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	// UpdateStatus moves the campaign to change.To only if its current status is one of change.From.
	// A lost race or an illegal source state yields a conflict error.
	UpdateStatus(ctx context.Context, id string, change StatusChange) (*model.Campaign, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	SyncCounters(ctx context.Context, id string) (*model.Campaign, error)
}

type EmailLogRepositoryInterface interface {
	// Materialize creates one pending row per recipient, in order, the first time it is called for a
	// campaign. Later calls change nothing and report the total fixed by the first call.
	Materialize(ctx context.Context, campaignID string, recipients []model.Recipient, at time.Time) (int, error)
	// ClaimPending moves rows to sending, lowest id first, and charges the campaign's send budget for
	// them in the same write. Sending rows claimed before claim.StaleBefore are eligible again.
	ClaimPending(ctx context.Context, campaignID string, claim Claim) ([]*model.EmailLog, error)
	MarkSent(ctx context.Context, id int64, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	Requeue(ctx context.Context, id int64, reason string, at time.Time) error
	Release(ctx context.Context, ids []int64, at time.Time) error
	CountByStatus(ctx context.Context, campaignID string) (model.LogCounts, error)
	ListByCampaign(ctx context.Context, campaignID string, offset, limit int) ([]*model.EmailLog, int, error)
}

type UserRepositoryInterface interface {
	FindUsers(ctx context.Context, criterion model.AudienceCriterion) ([]model.Recipient, error)
}

// Claim bounds one ClaimPending call. Budget is shared by every dispatcher of the campaign; the
// claim takes no more than it holds at Now and never more than Limit rows. A zero Limit means one batch.
type Claim struct {
	Limit       int
	Budget      ratelimit.Budget
	StaleBefore time.Time
	Now         time.Time
}

// Size is how many rows the claim may take from a budget last emptied at emptyAt.
func (c Claim) Size(emptyAt *time.Time) int {
	n := c.Budget.Available(emptyAt, c.Now)
	if c.Limit > 0 && c.Limit < n {
		return c.Limit
	}
	return n
}

type StatusChange struct {
	From []model.CampaignStatus
	To   model.CampaignStatus
	At   time.Time
}

func (c StatusChange) Allows(s model.CampaignStatus) bool {
	for _, f := range c.From {
		if f == s {
			return true
		}
	}
	return false
}

func (c StatusChange) from() []string {
	out := make([]string, len(c.From))
	for i, f := range c.From {
		out[i] = string(f)
	}
	return out
}
