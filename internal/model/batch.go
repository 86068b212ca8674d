// internal/model/batch.go
package model

// BatchResult is the outcome of one dispatch tick.
type BatchResult struct {
	CampaignID string `json:"campaign_id"`
	Attempted  int    `json:"attempted"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	// Retried counts transient failures left pending for a later tick.
	Retried   int  `json:"retried"`
	Completed bool `json:"completed"`
}

type Stats struct {
	CampaignID             string         `json:"campaign_id"`
	Status                 CampaignStatus `json:"status"`
	TotalEmails            int            `json:"total_emails"`
	SentEmails             int            `json:"sent_emails"`
	FailedEmails           int            `json:"failed_emails"`
	PendingEmails          int            `json:"pending_emails"`
	PercentComplete        float64        `json:"percent_complete"`
	EmailsPerHour          int            `json:"emails_per_hour"`
	EstimatedDurationHours int            `json:"estimated_duration_hours"`
}

type Estimate struct {
	TargetAudience         TargetAudience `json:"target_audience"`
	TotalEmails            int            `json:"total_emails"`
	EmailsPerHour          int            `json:"emails_per_hour"`
	EstimatedDurationHours int            `json:"estimated_duration_hours"`
}
