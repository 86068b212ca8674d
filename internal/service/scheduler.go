package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// Scheduler is the external trigger: each interval it starts due drafts and publishes one tick per
// active campaign.
type Scheduler struct {
	Campaigns *CampaignService
	Queue     queue.Queue
	Topic     string
	Interval  time.Duration
	log       *logrus.Logger
}

func NewScheduler(campaigns *CampaignService, q queue.Queue, topic string, interval time.Duration) *Scheduler {
	return &Scheduler{
		Campaigns: campaigns,
		Queue:     q,
		Topic:     topic,
		Interval:  interval,
		log:       logging.New("scheduler"),
	}
}

// Run ticks immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.log.WithError(err).Error("scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick returns the number of ticks published.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.Campaigns.Now()

	due, err := s.Campaigns.CampaignRepo.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, c := range due {
		if _, err := s.Campaigns.StartCampaign(ctx, c.ID); err != nil {
			if appErrors.KindOf(err) != appErrors.KindConflict {
				s.log.WithError(err).WithField("campaign_id", c.ID).Error("failed to start scheduled campaign")
			}
			continue
		}
		s.log.WithField("campaign_id", c.ID).Info("scheduled campaign started")
	}

	active, err := s.Campaigns.CampaignRepo.ListByStatus(ctx, model.CampaignActive)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, c := range active {
		if err := s.Queue.Publish(s.Topic, queue.Tick{CampaignID: c.ID, IssuedAt: now}); err != nil {
			s.log.WithError(err).WithField("campaign_id", c.ID).Error("failed to publish tick")
			continue
		}
		published++
	}
	return published, nil
}
