package service

import (
	"context"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// BatchDispatcher is the part of the Dispatcher the worker needs
type BatchDispatcher interface {
	DispatchNextBatch(ctx context.Context, campaignID string) (*model.BatchResult, error)
}

// Worker consumes campaign ticks and runs one dispatch per tick.
type Worker struct {
	Dispatcher BatchDispatcher
	Queue      queue.Queue
	Topic      string
	log        *logrus.Logger
}

// Constructor
func NewWorker(dispatcher BatchDispatcher, q queue.Queue, topic string) *Worker {
	return &Worker{
		Dispatcher: dispatcher,
		Queue:      q,
		Topic:      topic,
		log:        logging.New("worker"),
	}
}

// Start subscribes to the tick topic. Handlers run until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	return w.Queue.Subscribe(w.Topic, func(body []byte) error {
		return w.Handle(ctx, body)
	})
}

// Handle processes one tick. Only internal failures are returned, so the queue retries outages but
// not ticks for campaigns that are paused, finished or already being dispatched.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	if ctx.Err() != nil {
		return nil
	}
	tick, err := queue.DecodeTick(body)
	if err != nil {
		w.log.WithError(err).Warn("dropping invalid tick")
		return nil
	}

	res, err := w.Dispatcher.DispatchNextBatch(ctx, tick.CampaignID)
	if err != nil {
		switch appErrors.KindOf(err) {
		case appErrors.KindConflict, appErrors.KindNotFound:
			w.log.WithField("campaign_id", tick.CampaignID).Debug(err)
			return nil
		}
		return err
	}
	if res.Attempted > 0 || res.Completed {
		w.log.WithField("campaign_id", tick.CampaignID).
			WithField("sent", res.Sent).
			WithField("failed", res.Failed).
			WithField("completed", res.Completed).
			Debug("tick handled")
	}
	return nil
}
