package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// AudienceResolver expands a target audience into an ordered, deduplicated recipient list.
type AudienceResolver struct {
	Users          repository.UserRepositoryInterface
	RequiredFields []string

	counts *ttlcache.Cache[model.TargetAudience, int]
	log    *logrus.Logger
}

func NewAudienceResolver(users repository.UserRepositoryInterface, requiredFields []string, countTTL time.Duration) *AudienceResolver {
	if countTTL <= 0 {
		countTTL = time.Minute
	}
	return &AudienceResolver{
		Users:          users,
		RequiredFields: requiredFields,
		counts: ttlcache.New[model.TargetAudience, int](
			ttlcache.WithTTL[model.TargetAudience, int](countTTL),
			ttlcache.WithDisableTouchOnHit[model.TargetAudience, int](),
		),
		log: logging.New("audience"),
	}
}

// Resolve returns recipients in resolution order. Custom list entries that are not plausible addresses
// are dropped, as are case-insensitive duplicates; the first spelling wins.
func (r *AudienceResolver) Resolve(ctx context.Context, audience model.TargetAudience, customList []string) ([]model.Recipient, error) {
	switch audience {
	case model.AudienceCustomList:
		out := []model.Recipient{}
		seen := map[string]struct{}{}
		for _, entry := range customList {
			addr, ok := normalizeAddress(entry)
			if !ok {
				r.log.WithField("entry", entry).Debug("dropping invalid address")
				continue
			}
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.Recipient{Email: addr})
		}
		return out, nil

	case model.AudienceAllUsers, model.AudienceIncompleteProfiles:
		users, err := r.Users.FindUsers(ctx, model.AudienceCriterion{Audience: audience, RequiredFields: r.RequiredFields})
		if err != nil {
			return nil, err
		}
		out := make([]model.Recipient, 0, len(users))
		seen := make(map[string]struct{}, len(users))
		for _, u := range users {
			addr, ok := normalizeAddress(u.Email)
			if !ok {
				continue
			}
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.Recipient{Email: addr, Name: u.Name})
		}
		return out, nil
	}
	return nil, appErrors.NewValidation("unknown target audience %q", audience)
}

// Count is a dry run of Resolve. Directory audiences are cached briefly since estimates are polled.
func (r *AudienceResolver) Count(ctx context.Context, audience model.TargetAudience, customList []string) (int, error) {
	if audience != model.AudienceCustomList {
		if item := r.counts.Get(audience); item != nil {
			return item.Value(), nil
		}
	}

	recipients, err := r.Resolve(ctx, audience, customList)
	if err != nil {
		return 0, err
	}
	if audience != model.AudienceCustomList {
		r.counts.Set(audience, len(recipients), ttlcache.DefaultTTL)
	}
	return len(recipients), nil
}

// InvalidAddresses lists the custom list entries Resolve would drop as malformed.
func InvalidAddresses(list []string) []string {
	var bad []string
	for _, entry := range list {
		if _, ok := normalizeAddress(entry); !ok {
			bad = append(bad, entry)
		}
	}
	return bad
}

// normalizeAddress accepts a bare addr-spec only; display-name forms are rejected.
func normalizeAddress(entry string) (string, bool) {
	trimmed := strings.TrimSpace(entry)
	if trimmed == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || !strings.EqualFold(parsed.Address, trimmed) {
		return "", false
	}
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", false
	}
	return trimmed, true
}
