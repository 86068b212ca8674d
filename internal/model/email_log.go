// internal/model/email_log.go
package model

import "time"

type EmailLogStatus string

const (
	EmailPending EmailLogStatus = "pending"
	// EmailSending marks a row claimed by an in-flight tick. It is reported as pending.
	EmailSending EmailLogStatus = "sending"
	EmailSent    EmailLogStatus = "sent"
	EmailFailed  EmailLogStatus = "failed"
)

func (s EmailLogStatus) Terminal() bool {
	return s == EmailSent || s == EmailFailed
}

type EmailLog struct {
	ID             int64          `db:"id" json:"id"`
	CampaignID     string         `db:"campaign_id" json:"campaign_id"`
	RecipientEmail string         `db:"recipient_email" json:"recipient_email"`
	RecipientName  *string        `db:"recipient_name" json:"recipient_name,omitempty"`
	Status         EmailLogStatus `db:"status" json:"status"`
	MessageID      *string        `db:"message_id" json:"message_id,omitempty"`
	ErrorMessage   *string        `db:"error_message" json:"error_message,omitempty"`
	RetryCount     int            `db:"retry_count" json:"retry_count"`
	SentAt         *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	ClaimedAt      *time.Time     `db:"claimed_at" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

func (l *EmailLog) Clone() *EmailLog {
	if l == nil {
		return nil
	}
	cp := *l
	if l.RecipientName != nil {
		n := *l.RecipientName
		cp.RecipientName = &n
	}
	if l.MessageID != nil {
		m := *l.MessageID
		cp.MessageID = &m
	}
	if l.ErrorMessage != nil {
		e := *l.ErrorMessage
		cp.ErrorMessage = &e
	}
	cp.SentAt = cloneTime(l.SentAt)
	cp.ClaimedAt = cloneTime(l.ClaimedAt)
	return &cp
}

// DisplayName is the value substituted for {{name}}; it falls back to the address.
func (l *EmailLog) DisplayName() string {
	if l.RecipientName != nil && *l.RecipientName != "" {
		return *l.RecipientName
	}
	return l.RecipientEmail
}

// LogCounts is the per-status tally of a campaign's email logs.
type LogCounts struct {
	Pending int `db:"pending" json:"pending"`
	Sending int `db:"sending" json:"sending"`
	Sent    int `db:"sent" json:"sent"`
	Failed  int `db:"failed" json:"failed"`
}

func (c LogCounts) Total() int {
	return c.Pending + c.Sending + c.Sent + c.Failed
}

// Outstanding counts rows that still need a send attempt.
func (c LogCounts) Outstanding() int {
	return c.Pending + c.Sending
}
