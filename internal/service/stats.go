package service

import (
	"context"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// GetCampaignStats derives progress from the email logs; the campaign counters are not consulted.
func (s *CampaignService) GetCampaignStats(ctx context.Context, id string) (*model.Stats, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.LogRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildStats(c, counts), nil
}

func buildStats(c *model.Campaign, counts model.LogCounts) *model.Stats {
	total := counts.Total()
	if c.ResolvedAt == nil {
		total = c.TotalEmails
	}
	st := &model.Stats{
		CampaignID:    c.ID,
		Status:        c.Status,
		TotalEmails:   total,
		SentEmails:    counts.Sent,
		FailedEmails:  counts.Failed,
		PendingEmails: total - counts.Sent - counts.Failed,
		EmailsPerHour: c.EmailsPerHour,
	}
	if st.PendingEmails < 0 {
		st.PendingEmails = 0
	}

	switch {
	case total > 0:
		st.PercentComplete = float64(counts.Sent+counts.Failed) / float64(total) * 100
	case c.Status == model.CampaignCompleted:
		st.PercentComplete = 100
	}
	if !c.Status.Terminal() {
		st.EstimatedDurationHours = EstimatedDurationHours(st.PendingEmails, c.EmailsPerHour)
	}
	return st
}

// EstimatedDurationHours is ceil(total / emailsPerHour).
func EstimatedDurationHours(total, emailsPerHour int) int {
	if total <= 0 || emailsPerHour <= 0 {
		return 0
	}
	return (total + emailsPerHour - 1) / emailsPerHour
}

// CalculateTotalEmails counts the recipients an audience would resolve to, without writing anything.
func (s *CampaignService) CalculateTotalEmails(ctx context.Context, audience model.TargetAudience, customList []string) (int, error) {
	if audience == "" {
		audience = model.DefaultTargetAudience
	}
	if !audience.Valid() {
		return 0, appErrors.NewValidation("unknown target audience %q", audience)
	}
	return s.Audience.Count(ctx, audience, customList)
}

func (s *CampaignService) Estimate(ctx context.Context, audience model.TargetAudience, customList []string, emailsPerHour int) (*model.Estimate, error) {
	if emailsPerHour == 0 {
		emailsPerHour = s.DefaultEmailsPerHour
	}
	if emailsPerHour < 0 {
		return nil, appErrors.NewValidation("emails_per_hour must be positive, got %d", emailsPerHour)
	}
	if audience == "" {
		audience = model.DefaultTargetAudience
	}

	total, err := s.CalculateTotalEmails(ctx, audience, customList)
	if err != nil {
		return nil, err
	}
	return &model.Estimate{
		TargetAudience:         audience,
		TotalEmails:            total,
		EmailsPerHour:          emailsPerHour,
		EstimatedDurationHours: EstimatedDurationHours(total, emailsPerHour),
	}, nil
}

// SyncCounters rewrites the cached campaign counters from the email logs.
func (s *CampaignService) SyncCounters(ctx context.Context, id string) (*model.Campaign, error) {
	return s.CampaignRepo.SyncCounters(ctx, id)
}
