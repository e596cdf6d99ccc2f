// Package app wires configuration, storage and services into the objects the
// server and worker binaries run.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/phishguard-backend/internal/config"
	"github.com/unclebandit/phishguard-backend/internal/controller"
	"github.com/unclebandit/phishguard-backend/internal/db"
	"github.com/unclebandit/phishguard-backend/internal/handler"
	"github.com/unclebandit/phishguard-backend/internal/notify"
	"github.com/unclebandit/phishguard-backend/internal/queue"
	"github.com/unclebandit/phishguard-backend/internal/ratelimit"
	"github.com/unclebandit/phishguard-backend/internal/repository"
	"github.com/unclebandit/phishguard-backend/internal/service"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB
	Queue  queue.Queue

	// Distributed is true when the queue is RabbitMQ and consumers run in
	// cmd/worker rather than in this process.
	Distributed bool

	Campaigns    *service.CampaignService
	Registry     *service.RegistryService
	Recorder     *service.Recorder
	Dispatch     *service.DispatchService
	Orchestrator *service.Orchestrator
	Stats        *service.StatsService
	Guard        ratelimit.ProbeGuard

	closers []func() error
}

// New connects to PostgreSQL (and RabbitMQ / Redis when configured) and
// builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: conn}
	a.closers = append(a.closers, conn.Close)

	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = amqpQueue
		a.Distributed = true
		a.closers = append(a.closers, amqpQueue.Close)
	} else {
		a.Queue = queue.NewInMemoryQueue(logger)
	}

	a.Guard = ratelimit.NoopGuard{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		a.Guard = ratelimit.NewRedisProbeGuard(client, cfg.ProbeLimit, cfg.ProbeWindow, logger)
	}

	var mailer interface {
		notify.Channel
		notify.Notifier
	}
	if cfg.SendGridAPIKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)
	} else {
		logger.Warn("SENDGRID_API_KEY not set, messages are logged instead of sent")
		mailer = &notify.LogMailer{Logger: logger}
	}

	a.wire(mailer)
	return a, nil
}

func (a *App) wire(mailer interface {
	notify.Channel
	notify.Notifier
}) {
	campaignRepo := &repository.CampaignRepository{DB: a.DB}
	targetRepo := &repository.TargetRepository{DB: a.DB}
	userRepo := &repository.UserRepository{DB: a.DB}
	templateRepo := &repository.TemplateRepository{DB: a.DB}
	trainingRepo := &repository.TrainingRepository{DB: a.DB}

	a.Recorder = &service.Recorder{TargetRepo: targetRepo, Queue: a.Queue, Logger: a.Logger}
	a.Registry = &service.RegistryService{
		CampaignRepo: campaignRepo,
		TargetRepo:   targetRepo,
		UserRepo:     userRepo,
		TemplateRepo: templateRepo,
		TrainingRepo: trainingRepo,
		Logger:       a.Logger,
	}
	a.Campaigns = &service.CampaignService{
		CampaignRepo: campaignRepo,
		UserRepo:     userRepo,
		TemplateRepo: templateRepo,
		Queue:        a.Queue,
		Logger:       a.Logger,
		BaseURL:      a.Config.TrackingBaseURL,
	}
	a.Dispatch = &service.DispatchService{
		CampaignRepo: campaignRepo,
		TargetRepo:   targetRepo,
		UserRepo:     userRepo,
		TemplateRepo: templateRepo,
		Channel:      mailer,
		Recorder:     a.Recorder,
		Logger:       a.Logger,
		BaseURL:      a.Config.TrackingBaseURL,
		Timeout:      a.Config.DispatchTimeout,
		Concurrency:  a.Config.DispatchConcurrency,
	}
	if a.Config.DispatchRatePerSec > 0 {
		a.Dispatch.Limiter = rate.NewLimiter(rate.Limit(a.Config.DispatchRatePerSec), a.Config.DispatchConcurrency)
	}
	a.Orchestrator = &service.Orchestrator{
		CampaignRepo: campaignRepo,
		UserRepo:     userRepo,
		TemplateRepo: templateRepo,
		TrainingRepo: trainingRepo,
		Notifier:     mailer,
		Logger:       a.Logger,
	}
	a.Stats = &service.StatsService{
		CampaignRepo: campaignRepo,
		TargetRepo:   targetRepo,
		TrainingRepo: trainingRepo,
	}
}

// StartConsumers subscribes the dispatch and remediation handlers to the queue.
func (a *App) StartConsumers() error {
	if err := service.StartDispatchSubscriber(a.Queue, a.Dispatch); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicDispatch, err)
	}
	if err := service.StartRemediationSubscriber(a.Queue, a.Orchestrator); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicRemediation, err)
	}
	return nil
}

func (a *App) Router() http.Handler {
	tracking := handler.NewTrackingHandler(a.Recorder, a.Guard, a.Logger)
	admin := &controller.CampaignController{
		CampaignService: a.Campaigns,
		Registry:        a.Registry,
		Stats:           a.Stats,
		Logger:          a.Logger,
	}
	return NewRouter(tracking, admin, a.DB)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter mounts the tracking, admin and ops endpoints.
func NewRouter(tracking *handler.TrackingHandler, admin *controller.CampaignController, health Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	tracking.Routes(r)
	admin.Routes(r)
	return r
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
