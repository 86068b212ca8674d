package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
)

var log = logging.New("worker")

func main() {
	cliApp := &cli.App{
		Name:  "campaign-worker",
		Usage: "dispatch email campaign batches",
		Commands: []*cli.Command{
			{
				Name:   "consume",
				Usage:  "consume campaign ticks from the queue and dispatch one batch per tick",
				Action: withApp(consume),
			},
			{
				Name:   "schedule",
				Usage:  "start due campaigns and publish a tick per active campaign every interval",
				Action: withApp(schedule),
			},
			{
				Name:   "run",
				Usage:  "schedule and consume in one process",
				Action: withApp(run),
			},
			{
				Name:      "dispatch",
				Usage:     "dispatch one batch of a campaign and exit",
				ArgsUsage: "<campaign-id>",
				Action:    withApp(dispatchOnce),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withApp(fn func(ctx context.Context, c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(ctx)
		if err != nil {
			return err
		}
		if err := logging.Setup(cfg.App.LogLevel, cfg.App.Environment == "production"); err != nil {
			return err
		}

		a, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, c, a)
	}
}

func consume(ctx context.Context, _ *cli.Context, a *app.App) error {
	if a.InProcess() {
		return fmt.Errorf("AMQP_URL is required to consume ticks from another process")
	}
	if err := a.Worker().Start(ctx); err != nil {
		return err
	}
	log.WithField("queue", a.Config.AMQP.Queue).Info("worker running, waiting for ticks")
	<-ctx.Done()
	return nil
}

func schedule(ctx context.Context, _ *cli.Context, a *app.App) error {
	if a.InProcess() {
		return fmt.Errorf("AMQP_URL is required to publish ticks to another process")
	}
	log.WithField("interval", a.Config.Dispatch.TickInterval).Info("scheduler running")
	a.Scheduler().Run(ctx)
	return nil
}

func run(ctx context.Context, _ *cli.Context, a *app.App) error {
	if err := a.Worker().Start(ctx); err != nil {
		return err
	}
	log.WithField("interval", a.Config.Dispatch.TickInterval).Info("scheduler and worker running")
	a.Scheduler().Run(ctx)
	return nil
}

func dispatchOnce(ctx context.Context, c *cli.Context, a *app.App) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("campaign id is required")
	}
	res, err := a.Dispatcher.DispatchNextBatch(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "attempted=%d sent=%d failed=%d retried=%d completed=%t\n",
		res.Attempted, res.Sent, res.Failed, res.Retried, res.Completed)
	return nil
}
