package memorystore

import (
	"context"
	"strings"
	"sync"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type User struct {
	Email    string
	Name     *string
	Verified bool
	Deleted  bool
	// Profile holds optional profile columns by name; missing or blank values count as incomplete.
	Profile map[string]string
}

type UserDirectory struct {
	mu    sync.RWMutex
	users []User
}

func NewUserDirectory(users ...User) *UserDirectory {
	return &UserDirectory{users: users}
}

func (d *UserDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, u)
}

func (d *UserDirectory) FindUsers(_ context.Context, criterion model.AudienceCriterion) ([]model.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if criterion.Audience != model.AudienceAllUsers && criterion.Audience != model.AudienceIncompleteProfiles {
		return nil, appErrors.NewValidation("audience %q is not backed by the user directory", criterion.Audience)
	}

	out := []model.Recipient{}
	for _, u := range d.users {
		if !u.Verified || u.Deleted {
			continue
		}
		if criterion.Audience == model.AudienceIncompleteProfiles && !incomplete(u, criterion.RequiredFields) {
			continue
		}
		out = append(out, model.Recipient{Email: u.Email, Name: u.Name})
	}
	return out, nil
}

func incomplete(u User, required []string) bool {
	for _, f := range required {
		if strings.TrimSpace(u.Profile[f]) == "" {
			return true
		}
	}
	return false
}

var _ repository.UserRepositoryInterface = (*UserDirectory)(nil)
