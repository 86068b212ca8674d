// internal/model/recipient.go
package model

// Recipient is one resolved audience member.
type Recipient struct {
	Email string  `db:"email" json:"email"`
	Name  *string `db:"name" json:"name,omitempty"`
}

// AudienceCriterion is what the user directory is asked to match.
type AudienceCriterion struct {
	Audience TargetAudience
	// RequiredFields lists the profile columns that make a profile complete.
	RequiredFields []string
}
