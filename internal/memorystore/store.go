package memorystore

import (
	"context"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// Store keeps campaigns and their email logs in process. It satisfies both the campaign and the
// email log repository, and every method holds one lock so claims and counter updates are atomic.
type Store struct {
	mu        sync.RWMutex
	campaigns map[string]*model.Campaign
	order     []string          // campaign ids in creation order
	names     map[string]string // lower(name) -> id
	logs      map[string][]*model.EmailLog
	logByID   map[int64]*model.EmailLog
	nextLogID int64
}

// NewStore creates a new, empty Store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[string]*model.Campaign),
		names:     make(map[string]string),
		logs:      make(map[string][]*model.EmailLog),
		logByID:   make(map[int64]*model.EmailLog),
	}
}

// ====================== Campaigns ======================

func (s *Store) Create(_ context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(c.Name)
	if _, exists := s.names[key]; exists {
		return appErrors.NewConflict("campaign with name %q already exists", c.Name)
	}
	if _, exists := s.campaigns[c.ID]; exists {
		return appErrors.NewConflict("campaign with ID %s already exists", c.ID)
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	s.campaigns[c.ID] = c.Clone()
	s.names[key] = c.ID
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c.Clone(), nil
}

// ListCampaigns returns newest campaigns first.
func (s *Store) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*model.Campaign{}
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.campaigns[s.order[i]]
		if status != "" && string(c.Status) != status {
			continue
		}
		matched = append(matched, c)
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*model.Campaign, 0, end-offset)
	for _, c := range matched[offset:end] {
		page = append(page, c.Clone())
	}
	return page, total, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, change repository.StatusChange) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if !change.Allows(c.Status) {
		return nil, appErrors.NewConflict("cannot move campaign from %s to %s", c.Status, change.To)
	}

	at := change.At
	c.Status = change.To
	c.UpdatedAt = at
	switch change.To {
	case model.CampaignActive:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
	case model.CampaignCompleted:
		c.CompletedAt = &at
	case model.CampaignCancelled:
		c.CancelledAt = &at
	}
	return c.Clone(), nil
}

func (s *Store) ListDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*model.Campaign{}
	for _, id := range s.order {
		c := s.campaigns[id]
		if c.Status == model.CampaignDraft && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*model.Campaign{}
	for _, id := range s.order {
		if c := s.campaigns[id]; c.Status == status {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Store) SyncCounters(_ context.Context, id string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	counts := s.countLocked(id)
	c.SentEmails = counts.Sent
	c.FailedEmails = counts.Failed
	if c.ResolvedAt != nil {
		c.TotalEmails = counts.Total()
	}
	c.UpdatedAt = time.Now().UTC()
	return c.Clone(), nil
}

// ====================== Email logs ======================

func (s *Store) Materialize(_ context.Context, campaignID string, recipients []model.Recipient, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.ResolvedAt != nil {
		return c.TotalEmails, nil
	}

	seen := make(map[string]struct{}, len(recipients))
	rows := make([]*model.EmailLog, 0, len(recipients))
	for _, rc := range recipients {
		key := strings.ToLower(rc.Email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		s.nextLogID++
		l := &model.EmailLog{
			ID:             s.nextLogID,
			CampaignID:     campaignID,
			RecipientEmail: rc.Email,
			Status:         model.EmailPending,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		if rc.Name != nil {
			n := *rc.Name
			l.RecipientName = &n
		}
		rows = append(rows, l)
		s.logByID[l.ID] = l
	}

	s.logs[campaignID] = rows
	c.TotalEmails = len(rows)
	c.ResolvedAt = &at
	c.UpdatedAt = at
	return len(rows), nil
}

// ClaimPending charges the campaign's send budget under the same lock that claims the rows.
func (s *Store) ClaimPending(_ context.Context, campaignID string, claim repository.Claim) ([]*model.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}

	limit := claim.Size(c.RateEmptyAt)
	claimed := []*model.EmailLog{}
	for _, l := range s.logs[campaignID] {
		if len(claimed) >= limit {
			break
		}
		stale := l.Status == model.EmailSending && l.ClaimedAt != nil && l.ClaimedAt.Before(claim.StaleBefore)
		if l.Status != model.EmailPending && !stale {
			continue
		}
		claimedAt := claim.Now
		l.Status = model.EmailSending
		l.ClaimedAt = &claimedAt
		l.UpdatedAt = claim.Now
		claimed = append(claimed, l.Clone())
	}

	if len(claimed) > 0 {
		next := claim.Budget.Charge(c.RateEmptyAt, len(claimed), claim.Now)
		c.RateEmptyAt = &next
	}
	return claimed, nil
}

func (s *Store) MarkSent(_ context.Context, id int64, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.claimedLocked(id)
	if err != nil {
		return err
	}
	l.Status = model.EmailSent
	l.MessageID = &messageID
	l.SentAt = &at
	l.ErrorMessage = nil
	l.ClaimedAt = nil
	l.UpdatedAt = at

	c := s.campaigns[l.CampaignID]
	c.SentEmails++
	c.UpdatedAt = at
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.claimedLocked(id)
	if err != nil {
		return err
	}
	l.Status = model.EmailFailed
	l.ErrorMessage = &reason
	l.RetryCount++
	l.ClaimedAt = nil
	l.UpdatedAt = at

	c := s.campaigns[l.CampaignID]
	c.FailedEmails++
	c.UpdatedAt = at
	return nil
}

func (s *Store) Requeue(_ context.Context, id int64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.claimedLocked(id)
	if err != nil {
		return err
	}
	l.Status = model.EmailPending
	l.ErrorMessage = &reason
	l.RetryCount++
	l.ClaimedAt = nil
	l.UpdatedAt = at
	return nil
}

func (s *Store) Release(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if l, ok := s.logByID[id]; ok && l.Status == model.EmailSending {
			l.Status = model.EmailPending
			l.ClaimedAt = nil
			l.UpdatedAt = at
		}
	}
	return nil
}

func (s *Store) CountByStatus(_ context.Context, campaignID string) (model.LogCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(campaignID), nil
}

func (s *Store) ListByCampaign(_ context.Context, campaignID string, offset, limit int) ([]*model.EmailLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.logs[campaignID]
	total := len(rows)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]*model.EmailLog, 0, end-offset)
	for _, l := range rows[offset:end] {
		out = append(out, l.Clone())
	}
	return out, total, nil
}

func (s *Store) claimedLocked(id int64) (*model.EmailLog, error) {
	l, ok := s.logByID[id]
	if !ok || l.Status != model.EmailSending {
		return nil, appErrors.NewConflict("email log %d is not claimed", id)
	}
	return l, nil
}

func (s *Store) countLocked(campaignID string) model.LogCounts {
	var counts model.LogCounts
	for _, l := range s.logs[campaignID] {
		switch l.Status {
		case model.EmailPending:
			counts.Pending++
		case model.EmailSending:
			counts.Sending++
		case model.EmailSent:
			counts.Sent++
		case model.EmailFailed:
			counts.Failed++
		}
	}
	return counts
}

var (
	_ repository.CampaignRepositoryInterface = (*Store)(nil)
	_ repository.EmailLogRepositoryInterface = (*Store)(nil)
)
