package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/memorystore"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestEstimatedDurationHours(t *testing.T) {
	assert.Equal(t, 1, service.EstimatedDurationHours(3, 45))
	assert.Equal(t, 1, service.EstimatedDurationHours(45, 45))
	assert.Equal(t, 2, service.EstimatedDurationHours(46, 45))
	assert.Equal(t, 0, service.EstimatedDurationHours(0, 45))
}

func TestEstimateCustomList(t *testing.T) {
	f := newFixture(t)

	est, err := f.svc.Estimate(context.Background(), model.AudienceCustomList,
		[]string{"a@x.com", "b@x.com", "A@X.com", "c@x.com"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, est.TotalEmails)
	assert.Equal(t, 45, est.EmailsPerHour)
	assert.Equal(t, 1, est.EstimatedDurationHours)

	_, err = f.svc.Estimate(context.Background(), "everyone", nil, 45)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDirectoryCountIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users.Add(memorystore.User{Email: "a@x.com", Verified: true})
	f.users.Add(memorystore.User{Email: "b@x.com", Verified: true})
	f.users.Add(memorystore.User{Email: "unverified@x.com"})

	n, err := f.svc.CalculateTotalEmails(ctx, model.AudienceAllUsers, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.users.Add(memorystore.User{Email: "c@x.com", Verified: true})
	n, err = f.svc.CalculateTotalEmails(ctx, model.AudienceAllUsers, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// starting a campaign always resolves against the live directory
	c, err := f.svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "all", Subject: "s", Template: longTemplate, TargetAudience: model.AudienceAllUsers,
	})
	require.NoError(t, err)
	c, err = f.svc.StartCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, c.TotalEmails)
}

func TestStatsBeforeStart(t *testing.T) {
	f := newFixture(t)
	c := f.customCampaign(t, "draft", 45, "a@x.com", "b@x.com")

	stats, err := f.svc.GetCampaignStats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, stats.Status)
	assert.Zero(t, stats.TotalEmails)
	assert.Zero(t, stats.PendingEmails)
	assert.Zero(t, stats.PercentComplete)
	assert.Zero(t, stats.EstimatedDurationHours)

	_, err = f.svc.GetCampaignStats(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestSyncCountersRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.started(t, "sync", 3600, "a@x.com", "b@x.com")
	_, err := f.dispatcher.DispatchNextBatch(ctx, c.ID)
	require.NoError(t, err)

	synced, err := f.svc.SyncCounters(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, synced.SentEmails)
	assert.Equal(t, 2, synced.TotalEmails)
	f.assertCounters(t, c.ID)
}
