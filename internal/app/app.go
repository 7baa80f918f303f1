// Package app wires configuration into the storage, queue and service graph
// shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/mutex"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/ratelimit"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type App struct {
	DB    *sql.DB
	Redis *redis.Client
	Queue queue.Queue

	Dispatcher *service.Dispatcher
	Campaigns  *service.CampaignService
	Webhooks   *service.WebhookService
	Contacts   *service.ContactService
	Billing    *service.BillingService
	Reconciler *service.Reconciler
}

// New connects to Postgres, Redis and the configured queue backend.
func New(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*App, error) {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	if err := rdb.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	q, err := NewQueue(cfg, logger)
	if err != nil {
		conn.Close()
		rdb.Close()
		return nil, err
	}

	a := &App{DB: conn, Redis: rdb, Queue: q}
	a.wire(cfg, logger)
	return a, nil
}

// NewQueue picks the status-event transport.
func NewQueue(cfg config.AppConfig, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return queue.NewInMemoryQueue(logger), nil
	case "amqp":
		return queue.NewAMQPQueue(cfg.AMQPURL, logger)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("QUEUE_BACKEND=kafka needs KAFKA_BROKERS")
		}
		return queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaGroupID, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func (a *App) wire(cfg config.AppConfig, logger *zap.Logger) {
	workspaces := &repository.WorkspaceRepository{DB: a.DB}
	contacts := &repository.ContactRepository{DB: a.DB}
	threads := &repository.ThreadRepository{DB: a.DB}
	messages := &repository.MessageRepository{DB: a.DB}
	campaigns := &repository.CampaignRepository{DB: a.DB}
	billing := &repository.BillingRepository{DB: a.DB}

	lock := mutex.New(a.Redis, mutex.Options{LockTTL: cfg.LockTTL, ResultTTL: cfg.LockResultTTL}, logger)
	limiter := ratelimit.New(a.Redis)
	resolver := &service.ThreadResolver{Threads: threads, Mutex: lock, Logger: logger}

	a.Dispatcher = &service.Dispatcher{
		Workspaces:        workspaces,
		Contacts:          contacts,
		Messages:          messages,
		Threads:           resolver,
		Limiter:           limiter,
		Providers:         provider.NewRegistry(cfg.SmrtphoneURL, cfg.ProviderTimeout),
		Queue:             a.Queue,
		DefaultDailyLimit: cfg.DefaultDailyLimit,
		Logger:            logger,
	}
	a.Campaigns = &service.CampaignService{
		CampaignRepo:      campaigns,
		ContactRepo:       contacts,
		Workspaces:        workspaces,
		Dispatcher:        a.Dispatcher,
		Limiter:           limiter,
		Mutex:             lock,
		DefaultDailyLimit: cfg.DefaultDailyLimit,
		BatchConcurrency:  cfg.BatchConcurrency,
		Logger:            logger,
	}
	a.Webhooks = &service.WebhookService{
		Workspaces: workspaces,
		Contacts:   contacts,
		Messages:   messages,
		Threads:    resolver,
		Queue:      a.Queue,
		Logger:     logger,
	}
	a.Contacts = &service.ContactService{
		Contacts: contacts,
		Threads:  threads,
		Messages: messages,
		Mutex:    lock,
		Logger:   logger,
	}
	a.Billing = &service.BillingService{
		Billing:       billing,
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        logger,
	}
	a.Reconciler = &service.Reconciler{
		Messages:   messages,
		Queue:      a.Queue,
		StaleAfter: cfg.QueuedStaleAfter,
		Logger:     logger,
	}
}

// SubscribeStatusEvents keeps campaign stats and completion current.
func (a *App) SubscribeStatusEvents(logger *zap.Logger) error {
	return queue.StartStatusSubscriber(a.Queue, a.Campaigns, logger)
}

// Ready checks the backing stores.
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close drains the queue before closing the stores it feeds.
func (a *App) Close() {
	a.Queue.Close()
	a.Redis.Close()
	a.DB.Close()
}
