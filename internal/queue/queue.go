package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatch/internal/logging"
)

// Queue carries JSON encoded payloads between the scheduler and the workers.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(body []byte) error) error
	Close() error
}

// Tick asks a worker to dispatch one batch of a campaign.
type Tick struct {
	CampaignID string    `json:"campaign_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

func DecodeTick(body []byte) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(body, &t); err != nil {
		return Tick{}, fmt.Errorf("invalid tick payload: %w", err)
	}
	if t.CampaignID == "" {
		return Tick{}, fmt.Errorf("invalid tick payload: missing campaign_id")
	}
	return t, nil
}

// InMemoryQueue delivers to in-process subscribers with retry and linear backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(body []byte) error
	wg         sync.WaitGroup
	MaxRetries int
	Backoff    time.Duration
	log        *logrus.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(body []byte) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		log:        logging.New("queue"),
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	q.mu.Lock()
	handlers := append([]func(body []byte) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(topic, handler, body)
	}
	return nil
}

// processJob retries a failing handler up to MaxRetries times, then drops the message.
func (q *InMemoryQueue) processJob(topic string, handler func(body []byte) error, body []byte) {
	defer q.wg.Done()

	for attempt := 0; ; attempt++ {
		err := handler(body)
		if err == nil {
			return
		}
		if attempt >= q.MaxRetries {
			q.log.WithError(err).WithField("topic", topic).Errorf("job permanently failed after %d attempts", attempt+1)
			return
		}
		q.log.WithError(err).WithField("topic", topic).Warnf("job failed (attempt %d/%d)", attempt+1, q.MaxRetries+1)
		time.Sleep(time.Duration(attempt+1) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(body []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close waits for in-flight jobs.
func (q *InMemoryQueue) Close() error {
	q.wg.Wait()
	return nil
}
