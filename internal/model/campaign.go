// internal/model/campaign.go
package model

import (
	"time"

	"github.com/lib/pq"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

type TargetAudience string

const (
	AudienceIncompleteProfiles TargetAudience = "incomplete_profiles"
	AudienceAllUsers           TargetAudience = "all_users"
	AudienceCustomList         TargetAudience = "custom_list"
)

func (a TargetAudience) Valid() bool {
	switch a {
	case AudienceIncompleteProfiles, AudienceAllUsers, AudienceCustomList:
		return true
	}
	return false
}

const (
	DefaultEmailsPerHour  = 45
	MinTemplateLength     = 50
	DefaultTargetAudience = AudienceIncompleteProfiles
)

type Campaign struct {
	ID              string         `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Subject         string         `db:"subject" json:"subject"`
	Template        string         `db:"template" json:"template"`
	Status          CampaignStatus `db:"status" json:"status"`
	TargetAudience  TargetAudience `db:"target_audience" json:"target_audience"`
	CustomEmailList pq.StringArray `db:"custom_email_list" json:"custom_email_list"`
	EmailsPerHour   int            `db:"emails_per_hour" json:"emails_per_hour"`

	TotalEmails  int `db:"total_emails" json:"total_emails"`
	SentEmails   int `db:"sent_emails" json:"sent_emails"`
	FailedEmails int `db:"failed_emails" json:"failed_emails"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	// RateEmptyAt is the shared send budget: the instant its token bucket ran dry.
	RateEmptyAt *time.Time `db:"rate_empty_at" json:"-"`

	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so stores can hand out values without sharing slices or timestamps.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	if c.CustomEmailList != nil {
		cp.CustomEmailList = append(pq.StringArray(nil), c.CustomEmailList...)
	}
	cp.ScheduledAt = cloneTime(c.ScheduledAt)
	cp.StartedAt = cloneTime(c.StartedAt)
	cp.CompletedAt = cloneTime(c.CompletedAt)
	cp.CancelledAt = cloneTime(c.CancelledAt)
	cp.ResolvedAt = cloneTime(c.ResolvedAt)
	cp.RateEmptyAt = cloneTime(c.RateEmptyAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
