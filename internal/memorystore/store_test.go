package memorystore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/ratelimit"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

func newCampaign(t *testing.T, s *Store, name string) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		ID:             uuid.NewString(),
		Name:           name,
		Subject:        "Hello",
		Template:       "Hi {{name}}",
		TargetAudience: model.AudienceCustomList,
		EmailsPerHour:  45,
	}
	require.NoError(t, s.Create(context.Background(), c))
	return c
}

func recipients(emails ...string) []model.Recipient {
	out := make([]model.Recipient, len(emails))
	for i, e := range emails {
		out[i] = model.Recipient{Email: e}
	}
	return out
}

// claim asks for up to limit rows from a budget that never runs dry in a test.
func claim(limit int, staleBefore, now time.Time) repository.Claim {
	return repository.Claim{
		Limit:       limit,
		Budget:      ratelimit.Budget{EmailsPerHour: 360000, Interval: time.Hour},
		StaleBefore: staleBefore,
		Now:         now,
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	s := NewStore()
	newCampaign(t, s, "Welcome")

	err := s.Create(context.Background(), &model.Campaign{ID: uuid.NewString(), Name: "welcome"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestUpdateStatusIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	at := time.Now()

	updated, err := s.UpdateStatus(ctx, c.ID, repository.StatusChange{
		From: []model.CampaignStatus{model.CampaignDraft}, To: model.CampaignActive, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, updated.Status)
	require.NotNil(t, updated.StartedAt)

	_, err = s.UpdateStatus(ctx, c.ID, repository.StatusChange{
		From: []model.CampaignStatus{model.CampaignDraft}, To: model.CampaignActive, At: at,
	})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = s.UpdateStatus(ctx, "missing", repository.StatusChange{To: model.CampaignActive})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")

	n, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com", "A@x.com"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Materialize(ctx, c.ID, recipients("z@x.com"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	logs, total, err := s.ListByCampaign(ctx, c.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "a@x.com", logs[0].RecipientEmail)
	assert.Equal(t, "b@x.com", logs[1].RecipientEmail)
	assert.Less(t, logs[0].ID, logs[1].ID)
}

func TestClaimPendingOrderAndStaleReclaim(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	_, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com", "c@x.com"), time.Now())
	require.NoError(t, err)

	now := time.Now()
	first, err := s.ClaimPending(ctx, c.ID, claim(2, now.Add(-time.Minute), now))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a@x.com", first[0].RecipientEmail)
	assert.Equal(t, "b@x.com", first[1].RecipientEmail)

	second, err := s.ClaimPending(ctx, c.ID, claim(5, now.Add(-time.Minute), now))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "c@x.com", second[0].RecipientEmail)

	// a and b were claimed at now; once the stale horizon passes them they come back.
	later := now.Add(time.Hour)
	reclaimed, err := s.ClaimPending(ctx, c.ID, claim(5, later.Add(-time.Minute), later))
	require.NoError(t, err)
	assert.Len(t, reclaimed, 3)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	emails := make([]string, 100)
	for i := range emails {
		emails[i] = uuid.NewString() + "@x.com"
	}
	_, err := s.Materialize(ctx, c.ID, recipients(emails...), time.Now())
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now()
			logs, err := s.ClaimPending(ctx, c.ID, claim(15, now.Add(-time.Hour), now))
			assert.NoError(t, err)
			mu.Lock()
			for _, l := range logs {
				seen[l.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "log %d claimed twice", id)
	}
}

func TestTerminalWritesBumpCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	_, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com", "c@x.com"), time.Now())
	require.NoError(t, err)

	now := time.Now()
	logs, err := s.ClaimPending(ctx, c.ID, claim(3, now, now))
	require.NoError(t, err)

	require.NoError(t, s.MarkSent(ctx, logs[0].ID, "m-1", now))
	require.NoError(t, s.MarkFailed(ctx, logs[1].ID, "rejected", now))
	require.NoError(t, s.Requeue(ctx, logs[2].ID, "try later", now))

	// only claimed rows accept a terminal write
	assert.ErrorIs(t, s.MarkSent(ctx, logs[0].ID, "m-2", now), appErrors.ErrConflict)
	assert.ErrorIs(t, s.MarkFailed(ctx, logs[2].ID, "x", now), appErrors.ErrConflict)

	got, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SentEmails)
	assert.Equal(t, 1, got.FailedEmails)
	assert.Equal(t, 3, got.TotalEmails)

	counts, err := s.CountByStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogCounts{Pending: 1, Sent: 1, Failed: 1}, counts)

	all, _, err := s.ListByCampaign(ctx, c.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, all[1].RetryCount)
	assert.Equal(t, 1, all[2].RetryCount)
}

func TestReleaseKeepsRetryCount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	_, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com"), time.Now())
	require.NoError(t, err)

	now := time.Now()
	logs, err := s.ClaimPending(ctx, c.ID, claim(2, now, now))
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, []int64{logs[0].ID, logs[1].ID}, now))

	counts, err := s.CountByStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)

	all, _, err := s.ListByCampaign(ctx, c.ID, 0, 10)
	require.NoError(t, err)
	for _, l := range all {
		assert.Zero(t, l.RetryCount)
		assert.Nil(t, l.ClaimedAt)
	}
}

func TestSyncCountersFromLogs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	_, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com"), time.Now())
	require.NoError(t, err)

	now := time.Now()
	logs, err := s.ClaimPending(ctx, c.ID, claim(1, now, now))
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, logs[0].ID, "m", now))

	s.mu.Lock()
	s.campaigns[c.ID].SentEmails = 7
	s.mu.Unlock()

	synced, err := s.SyncCounters(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, synced.SentEmails)
	assert.Equal(t, 2, synced.TotalEmails)
}

func TestClaimChargesSharedBudget(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCampaign(t, s, "c")
	_, err := s.Materialize(ctx, c.ID, recipients("a@x.com", "b@x.com", "c@x.com", "d@x.com"), time.Now())
	require.NoError(t, err)

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	req := repository.Claim{
		Budget:      ratelimit.Budget{EmailsPerHour: 120, Interval: time.Minute},
		StaleBefore: now.Add(-time.Hour),
		Now:         now,
	}

	first, err := s.ClaimPending(ctx, c.ID, req)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// a second claimer at the same instant draws from the same bucket
	second, err := s.ClaimPending(ctx, c.ID, req)
	require.NoError(t, err)
	assert.Empty(t, second)

	req.Now = now.Add(30 * time.Second)
	third, err := s.ClaimPending(ctx, c.ID, req)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "c@x.com", third[0].RecipientEmail)

	got, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RateEmptyAt)

	_, err = s.ClaimPending(ctx, "missing", req)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListCampaignsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newCampaign(t, s, "one")
	two := newCampaign(t, s, "two")
	newCampaign(t, s, "three")

	page, total, err := s.ListCampaigns(ctx, 1, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, two.ID, page[0].ID)

	page, total, err = s.ListCampaigns(ctx, 0, 10, string(model.CampaignActive))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}
