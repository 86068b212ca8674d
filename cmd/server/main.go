// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
)

var log = logging.New("server")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.Setup(cfg.App.LogLevel, cfg.App.Environment == "production"); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise")
	}
	defer a.Close()

	// Without a broker the scheduler and worker run here.
	if a.InProcess() {
		if err := a.Worker().Start(ctx); err != nil {
			log.WithError(err).Fatal("failed to start worker")
		}
		go a.Scheduler().Run(ctx)
		log.WithField("interval", cfg.Dispatch.TickInterval).Info("dispatching in process")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logging.New("http"), NoColor: true}))
	r.Use(middleware.Heartbeat("/ping"))
	r.Handle("/metrics", promhttp.Handler())

	campaignController := &controller.CampaignController{
		CampaignService: a.Campaigns,
		Dispatcher:      a.Dispatcher,
	}
	campaignController.Routes(r)
	handler.NewCampaignHandler(a.Campaigns).Routes(r)

	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("server running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("got signal %s, shutting down", sig)

	// stop scheduling before draining HTTP
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}
