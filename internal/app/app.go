// Package app wires configuration into the stores, transport and queue shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
	"github.com/unclebandit/campaign-dispatch/internal/mail"
	"github.com/unclebandit/campaign-dispatch/internal/memorystore"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Campaigns  *service.CampaignService
	Dispatcher *service.Dispatcher
	Queue      queue.Queue

	log *logrus.Logger
}

// Build connects everything cfg asks for. The caller owns the result and must Close it.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: logging.New("app")}

	var (
		campaigns repository.CampaignRepositoryInterface
		logs      repository.EmailLogRepositoryInterface
		users     repository.UserRepositoryInterface
	)
	switch cfg.Database.Driver {
	case "memory":
		a.log.Warn("using the in-memory store; nothing survives a restart")
		store := memorystore.NewStore()
		campaigns, logs, users = store, store, memorystore.NewUserDirectory()
	default:
		conn, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		a.DB = conn
		campaigns = repository.NewCampaignRepository(conn)
		logs = repository.NewEmailLogRepository(conn)
		users = repository.NewUserRepository(conn)
	}

	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to queue: %w", err)
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewInMemoryQueue()
	}

	audience := service.NewAudienceResolver(users, cfg.Audience.RequiredFields, cfg.Audience.EstimateCacheTTL)
	a.Campaigns = service.NewCampaignService(campaigns, logs, audience, cfg.Dispatch.DefaultEmailsPerHour)
	a.Dispatcher = service.NewDispatcher(campaigns, logs, mail.New(cfg.SMTP, logging.New("mail")), cfg.Dispatch)
	return a, nil
}

// InProcess reports whether ticks stay inside this process.
func (a *App) InProcess() bool {
	return a.Config.AMQP.URL == ""
}

func (a *App) Scheduler() *service.Scheduler {
	return service.NewScheduler(a.Campaigns, a.Queue, a.Config.AMQP.Queue, a.Config.Dispatch.TickInterval)
}

func (a *App) Worker() *service.Worker {
	return service.NewWorker(a.Dispatcher, a.Queue, a.Config.AMQP.Queue)
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close queue")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close database")
		}
	}
}
