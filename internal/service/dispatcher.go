package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/mail"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/ratelimit"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/tools"
)

// Dispatcher runs one bounded batch per call. It owns no timer; something external calls
// DispatchNextBatch on the configured tick interval.
type Dispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.EmailLogRepositoryInterface
	Transport    mail.Transport

	MaxRetries   int
	ClaimTimeout time.Duration
	Concurrency  int
	Interval     time.Duration
	Now          func() time.Time

	locks *tools.KeyedMutex
	log   *logrus.Logger
}

func NewDispatcher(campaigns repository.CampaignRepositoryInterface, logs repository.EmailLogRepositoryInterface,
	transport mail.Transport, cfg config.DispatchConfig) *Dispatcher {
	d := &Dispatcher{
		CampaignRepo: campaigns,
		LogRepo:      logs,
		Transport:    transport,
		MaxRetries:   cfg.MaxRetries,
		ClaimTimeout: cfg.ClaimTimeout,
		Concurrency:  cfg.SendConcurrency,
		Interval:     cfg.TickInterval,
		Now:          func() time.Time { return time.Now().UTC() },
		locks:        tools.NewKeyedMutex(),
		log:          logging.New("dispatcher"),
	}
	if d.MaxRetries < 1 {
		d.MaxRetries = 3
	}
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.ClaimTimeout <= 0 {
		d.ClaimTimeout = 10 * time.Minute
	}
	if d.Interval <= 0 {
		d.Interval = time.Minute
	}
	return d
}

func (d *Dispatcher) DispatchNextBatch(ctx context.Context, campaignID string) (*model.BatchResult, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, campaignID)

	label := "ok"
	switch {
	case err != nil && appErrors.KindOf(err) == appErrors.KindConflict:
		label = "conflict"
	case err != nil:
		label = "error"
	case res.Completed:
		label = "completed"
	}
	metrics.RecordTick(label, time.Since(start).Seconds())
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, campaignID string) (*model.BatchResult, error) {
	if !d.locks.TryLock(campaignID) {
		return nil, appErrors.NewConflict("dispatch already in progress for campaign %s", campaignID)
	}
	defer d.locks.Unlock(campaignID)

	c, err := d.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	result := &model.BatchResult{CampaignID: campaignID}
	switch c.Status {
	case model.CampaignActive:
	case model.CampaignCompleted:
		result.Completed = true
		return result, nil
	default:
		return nil, appErrors.NewConflict("cannot dispatch campaign in status %s", c.Status)
	}

	now := d.Now()
	logger := d.log.WithField("campaign_id", campaignID)

	claimed, err := d.LogRepo.ClaimPending(ctx, campaignID, repository.Claim{
		Budget:      ratelimit.Budget{EmailsPerHour: c.EmailsPerHour, Interval: d.Interval},
		StaleBefore: now.Add(-d.ClaimTimeout),
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		if err := d.sendBatch(ctx, c, claimed, result); err != nil {
			logger.WithError(err).Error("batch aborted")
			return result, err
		}
	}

	counts, err := d.LogRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return result, err
	}
	if counts.Outstanding() == 0 {
		_, err := d.CampaignRepo.UpdateStatus(ctx, campaignID, repository.StatusChange{
			From: completeTransition.from, To: completeTransition.to, At: d.Now(),
		})
		switch {
		case err == nil:
			result.Completed = true
			logger.Info("campaign completed")
		case appErrors.KindOf(err) == appErrors.KindConflict:
			// paused or cancelled while the batch ran; the next start or tick decides
			logger.WithError(err).Debug("skipping completion")
		default:
			return result, err
		}
	}

	logger.WithFields(logrus.Fields{
		"attempted": result.Attempted,
		"sent":      result.Sent,
		"failed":    result.Failed,
		"retried":   result.Retried,
	}).Info("batch dispatched")
	return result, nil
}

// sendBatch sends the claimed rows on a bounded pool. A transport outage or a cancelled context stops
// the batch; rows that were not attempted go back to pending untouched.
func (d *Dispatcher) sendBatch(ctx context.Context, c *model.Campaign, claimed []*model.EmailLog, result *model.BatchResult) error {
	var (
		mu        sync.Mutex
		abortErr  error
		storeErr  error
		unclaimed []int64
	)

	pool := pond.New(d.Concurrency, len(claimed))
	for _, l := range claimed {
		l := l
		pool.Submit(func() {
			mu.Lock()
			stop := abortErr != nil
			mu.Unlock()
			if stop || ctx.Err() != nil {
				mu.Lock()
				unclaimed = append(unclaimed, l.ID)
				if abortErr == nil {
					abortErr = ctx.Err()
				}
				mu.Unlock()
				return
			}

			outcome, err := d.sendOne(ctx, c, l)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				result.Attempted++
				result.Sent++
			case outcomeFailed:
				result.Attempted++
				result.Failed++
			case outcomeRetried:
				result.Attempted++
				result.Retried++
			case outcomeUnavailable:
				unclaimed = append(unclaimed, l.ID)
				if abortErr == nil {
					abortErr = err
				}
				return
			}
			if err != nil && storeErr == nil {
				storeErr = err
			}
		})
	}
	pool.StopAndWait()

	if len(unclaimed) > 0 {
		metrics.EmailsSent.WithLabelValues("released").Add(float64(len(unclaimed)))
		// the tick context may be gone already
		if err := d.LogRepo.Release(context.WithoutCancel(ctx), unclaimed, d.Now()); err != nil {
			d.log.WithError(err).WithField("campaign_id", c.ID).Error("failed to release claimed rows")
		}
	}
	if abortErr != nil {
		return appErrors.NewInternal(abortErr, "dispatch of campaign %s aborted", c.ID)
	}
	if storeErr != nil {
		return appErrors.NewInternal(storeErr, "record send outcome for campaign %s", c.ID)
	}
	return nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeRetried
	outcomeUnavailable
)

// sendOne delivers one row and records its outcome. The returned error is a store or transport
// outage; per-recipient failures are reported through the outcome only.
func (d *Dispatcher) sendOne(ctx context.Context, c *model.Campaign, l *model.EmailLog) (outcome, error) {
	data := recipientData(l)
	msg := mail.Message{
		To:      l.RecipientEmail,
		Subject: RenderTemplate(c.Subject, data),
		HTML:    RenderHTML(c.Template, data),
	}
	if l.RecipientName != nil {
		msg.ToName = *l.RecipientName
	}

	logger := d.log.WithField("campaign_id", c.ID).WithField("log_id", l.ID)
	messageID, sendErr := d.Transport.Send(ctx, msg)
	sendErr = mail.Classify(sendErr)
	now := d.Now()

	switch {
	case sendErr == nil:
		metrics.RecordEmail("sent")
		return outcomeSent, d.LogRepo.MarkSent(ctx, l.ID, messageID, now)

	case errors.Is(sendErr, mail.ErrTransportUnavailable), ctx.Err() != nil:
		logger.WithError(sendErr).Warn("mail transport unavailable")
		return outcomeUnavailable, sendErr

	case mail.IsTransient(sendErr) && l.RetryCount+1 < d.MaxRetries:
		logger.WithError(sendErr).WithField("retry_count", l.RetryCount+1).Warn("transient send failure, will retry")
		metrics.RecordEmail("retried")
		return outcomeRetried, d.LogRepo.Requeue(ctx, l.ID, sendErr.Error(), now)

	default:
		logger.WithError(sendErr).Warn("send failed")
		metrics.RecordEmail("failed")
		return outcomeFailed, d.LogRepo.MarkFailed(ctx, l.ID, sendErr.Error(), now)
	}
}
