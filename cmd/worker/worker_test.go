package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func memoryApp(t *testing.T) *app.App {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.LoadWith(ctx, envconfig.MapLookuper(map[string]string{"DB_DRIVER": "memory"}))
	require.NoError(t, err)
	a, err := app.Build(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func runCommand(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := &cli.App{
		Name:   "campaign-worker",
		Writer: &out,
		Commands: []*cli.Command{{
			Name: "dispatch",
			Action: func(c *cli.Context) error {
				return dispatchOnce(c.Context, c, a)
			},
		}},
	}
	err := cliApp.RunContext(context.Background(), append([]string{"campaign-worker"}, args...))
	return out.String(), err
}

func TestDispatchCommand(t *testing.T) {
	ctx := context.Background()
	a := memoryApp(t)

	c, err := a.Campaigns.CreateCampaign(ctx, service.CreateCampaignInput{
		Name:            "cli",
		Subject:         "Hello {{name}}",
		Template:        "Hi {{name}}, please finish your profile so we can reach you at {{email}} soon.",
		TargetAudience:  model.AudienceCustomList,
		CustomEmailList: []string{"a@x.com"},
		EmailsPerHour:   3600,
	})
	require.NoError(t, err)
	_, err = a.Campaigns.StartCampaign(ctx, c.ID)
	require.NoError(t, err)

	out, err := runCommand(t, a, "dispatch", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "attempted=1 sent=1 failed=0 retried=0 completed=true\n", out)
}

func TestDispatchCommandRequiresID(t *testing.T) {
	_, err := runCommand(t, memoryApp(t), "dispatch")
	assert.Error(t, err)
}

func TestConsumeRequiresBroker(t *testing.T) {
	err := consume(context.Background(), nil, memoryApp(t))
	assert.Error(t, err)
}
