package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestSchedulerStartsDueAndTicksActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := queue.NewInMemoryQueue()
	q.Backoff = time.Millisecond

	require.NoError(t, service.NewWorker(f.dispatcher, q, "ticks").Start(ctx))
	sched := service.NewScheduler(f.svc, q, "ticks", time.Minute)

	due := f.clock.Now().Add(-time.Minute)
	scheduled, err := f.svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "scheduled", Subject: "s", Template: longTemplate, EmailsPerHour: 3600,
		TargetAudience: model.AudienceCustomList, CustomEmailList: []string{"due@x.com"}, ScheduledAt: &due,
	})
	require.NoError(t, err)

	later := f.clock.Now().Add(time.Hour)
	future, err := f.svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "future", Subject: "s", Template: longTemplate,
		TargetAudience: model.AudienceCustomList, CustomEmailList: []string{"future@x.com"}, ScheduledAt: &later,
	})
	require.NoError(t, err)

	active := f.started(t, "active", 3600, "active@x.com")
	paused := f.started(t, "paused", 3600, "paused@x.com")
	_, err = f.svc.PauseCampaign(ctx, paused.ID)
	require.NoError(t, err)

	published, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	require.NoError(t, q.Close())

	assert.ElementsMatch(t, []string{"due@x.com", "active@x.com"}, f.transport.sentTo())
	assert.Equal(t, model.CampaignCompleted, f.campaign(t, scheduled.ID).Status)
	assert.Equal(t, model.CampaignCompleted, f.campaign(t, active.ID).Status)
	assert.Equal(t, model.CampaignDraft, f.campaign(t, future.ID).Status)
	assert.Equal(t, model.CampaignPaused, f.campaign(t, paused.ID).Status)
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubDispatcher) DispatchNextBatch(_ context.Context, campaignID string) (*model.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, campaignID)
	if s.err != nil {
		return nil, s.err
	}
	return &model.BatchResult{CampaignID: campaignID}, nil
}

func tickBody(t *testing.T, id string) []byte {
	t.Helper()
	body, err := json.Marshal(queue.Tick{CampaignID: id, IssuedAt: time.Now()})
	require.NoError(t, err)
	return body
}

func TestWorkerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches the tick's campaign", func(t *testing.T) {
		d := &stubDispatcher{}
		w := service.NewWorker(d, nil, "ticks")
		assert.NoError(t, w.Handle(ctx, tickBody(t, "c1")))
		assert.Equal(t, []string{"c1"}, d.calls)
	})

	t.Run("drops malformed ticks", func(t *testing.T) {
		d := &stubDispatcher{}
		w := service.NewWorker(d, nil, "ticks")
		assert.NoError(t, w.Handle(ctx, []byte("{")))
		assert.NoError(t, w.Handle(ctx, []byte(`{"issued_at":"2026-01-05T09:00:00Z"}`)))
		assert.Empty(t, d.calls)
	})

	t.Run("swallows conflicts and unknown campaigns", func(t *testing.T) {
		for _, err := range []error{
			appErrors.NewConflict("dispatch already in progress"),
			appErrors.NewCampaignNotFound("c1"),
		} {
			w := service.NewWorker(&stubDispatcher{err: err}, nil, "ticks")
			assert.NoError(t, w.Handle(ctx, tickBody(t, "c1")))
		}
	})

	t.Run("returns internal failures for redelivery", func(t *testing.T) {
		outage := appErrors.NewInternal(errors.New("connection refused"), "claim pending rows")
		w := service.NewWorker(&stubDispatcher{err: outage}, nil, "ticks")
		assert.ErrorIs(t, w.Handle(ctx, tickBody(t, "c1")), outage)
	})
}
