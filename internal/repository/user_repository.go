package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// UserRepository answers audience queries against the users table.
// Active means a verified address on a row that is not soft deleted.
type UserRepository struct {
	DB *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) FindUsers(ctx context.Context, criterion model.AudienceCriterion) ([]model.Recipient, error) {
	query := `SELECT email, NULLIF(name, '') AS name FROM users WHERE deleted_at IS NULL AND is_email_verified`

	switch criterion.Audience {
	case model.AudienceAllUsers:
	case model.AudienceIncompleteProfiles:
		if len(criterion.RequiredFields) == 0 {
			return []model.Recipient{}, nil
		}
		missing := make([]string, len(criterion.RequiredFields))
		for i, f := range criterion.RequiredFields {
			col := pq.QuoteIdentifier(f)
			missing[i] = col + ` IS NULL OR ` + col + `::text = ''`
		}
		query += ` AND (` + strings.Join(missing, ` OR `) + `)`
	default:
		return nil, appErrors.NewValidation("audience %q is not backed by the user directory", criterion.Audience)
	}
	query += ` ORDER BY created_at, id`

	var rows []struct {
		Email string  `db:"email"`
		Name  *string `db:"name"`
	}
	if err := r.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, appErrors.NewInternal(err, "find %s users", criterion.Audience)
	}

	out := make([]model.Recipient, len(rows))
	for i, row := range rows {
		out[i] = model.Recipient{Email: row.Email, Name: row.Name}
	}
	return out, nil
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
