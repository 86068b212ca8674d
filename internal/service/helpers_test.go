package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/mail"
	"github.com/unclebandit/campaign-dispatch/internal/memorystore"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

const longTemplate = "Hi {{name}}, please finish your profile so we can reach you at {{email}} with better matches."

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeTransport records sends and replays scripted errors per recipient.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []mail.Message
	attempts map[string]int
	script   map[string][]error
	delay    time.Duration

	inFlight    int32
	maxInFlight int32
}

func newTransport() *fakeTransport {
	return &fakeTransport{
		attempts: map[string]int{},
		script:   map[string][]error{},
	}
}

func (f *fakeTransport) failWith(to string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[to] = append(f.script[to], errs...)
}

func (f *fakeTransport) Send(ctx context.Context, msg mail.Message) (string, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[msg.To]++
	if errs := f.script[msg.To]; len(errs) > 0 {
		err := errs[0]
		f.script[msg.To] = errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeTransport) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.To
	}
	return out
}

func (f *fakeTransport) attemptsFor(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[to]
}

type fixture struct {
	store      *memorystore.Store
	users      *memorystore.UserDirectory
	transport  *fakeTransport
	clock      *fakeClock
	svc        *service.CampaignService
	dispatcher *service.Dispatcher
	cfg        config.DispatchConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memorystore.NewStore(),
		users:     memorystore.NewUserDirectory(),
		transport: newTransport(),
		clock:     newClock(),
		cfg: config.DispatchConfig{
			TickInterval:         time.Minute,
			MaxRetries:           3,
			ClaimTimeout:         10 * time.Minute,
			SendConcurrency:      1,
			DefaultEmailsPerHour: model.DefaultEmailsPerHour,
		},
	}
	audience := service.NewAudienceResolver(f.users, []string{"date_of_birth", "gender", "occupation"}, time.Minute)
	f.svc = service.NewCampaignService(f.store, f.store, audience, f.cfg.DefaultEmailsPerHour)
	f.svc.Now = f.clock.Now
	f.dispatcher = f.newDispatcher()
	return f
}

func (f *fixture) newDispatcher() *service.Dispatcher {
	d := service.NewDispatcher(f.store, f.store, f.transport, f.cfg)
	d.Now = f.clock.Now
	return d
}

func (f *fixture) customCampaign(t *testing.T, name string, emailsPerHour int, emails ...string) *model.Campaign {
	t.Helper()
	c, err := f.svc.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:            name,
		Subject:         "Hello {{name}}",
		Template:        longTemplate,
		TargetAudience:  model.AudienceCustomList,
		CustomEmailList: emails,
		EmailsPerHour:   emailsPerHour,
		CreatedBy:       "admin",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) started(t *testing.T, name string, emailsPerHour int, emails ...string) *model.Campaign {
	t.Helper()
	c := f.customCampaign(t, name, emailsPerHour, emails...)
	c, err := f.svc.StartCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) campaign(t *testing.T, id string) *model.Campaign {
	t.Helper()
	c, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) logs(t *testing.T, id string) []*model.EmailLog {
	t.Helper()
	logs, _, err := f.store.ListByCampaign(context.Background(), id, 0, 1000)
	require.NoError(t, err)
	return logs
}

// assertCounters checks the cached counters agree with the logs and never exceed the total.
func (f *fixture) assertCounters(t *testing.T, id string) {
	t.Helper()
	c := f.campaign(t, id)
	counts, err := f.store.CountByStatus(context.Background(), id)
	require.NoError(t, err)

	assert.LessOrEqual(t, c.SentEmails+c.FailedEmails, c.TotalEmails)
	assert.Equal(t, counts.Sent, c.SentEmails)
	assert.Equal(t, counts.Failed, c.FailedEmails)
}

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%03d@example.com", i)
	}
	return out
}
