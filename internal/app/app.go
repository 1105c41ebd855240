// Package app assembles the ledger daemon from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fadedpez/pointledger/internal/config"
	dsession "github.com/fadedpez/pointledger/internal/discord"
	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/api"
	"github.com/fadedpez/pointledger/pkg/audit"
	"github.com/fadedpez/pointledger/pkg/discord"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/fadedpez/pointledger/pkg/events/rabbitmq"
	"github.com/fadedpez/pointledger/pkg/events/ws"
	"github.com/fadedpez/pointledger/pkg/idempotency"
	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/fadedpez/pointledger/pkg/repositories/catalog"
	"github.com/fadedpez/pointledger/pkg/scheduler"
	"github.com/fadedpez/pointledger/pkg/services/deposit"
	"github.com/fadedpez/pointledger/pkg/services/exchange"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/fadedpez/pointledger/pkg/services/premium"
	"github.com/fadedpez/pointledger/pkg/services/review"
)

const (
	cachePurgeInterval = 5 * time.Minute
	shutdownTimeout    = 15 * time.Second
)

// App holds every running component of the daemon
type App struct {
	Config   *config.Config
	Stores   *Stores
	Metrics  *metrics.Metrics
	Ledger   *ledger.Service
	Deposits *deposit.Service
	Exchange *exchange.Service
	Premium  *premium.Service
	Reviews  *review.Gateway
	Catalog  *catalog.MemoryRepository
	Hub      *ws.Hub

	Scheduler *scheduler.Scheduler
	Bot       *discord.Bot
	Handler   http.Handler

	log     *logging.Logger
	closers []func()
}

// ConfigureLogging installs the process-wide logger for cfg. It must run
// before New so every component picks it up.
func ConfigureLogging(cfg *config.Config) {
	logging.SetDefault(logging.NewWithOutput(logging.ParseLevel(cfg.LogLevel), os.Stdout, !cfg.IsDevelopment()))
}

// New wires the daemon. Optional integrations that cannot be reached are
// logged and replaced with fallbacks; only the stores are fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Hub:     ws.NewHub(),
		Catalog: catalog.NewMemoryRepository(),
		log:     logging.Default.WithField("component", "app"),
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Stores = stores
	a.closers = append(a.closers, func() { stores.Close() })

	if cfg.CatalogPath != "" {
		if err := catalog.LoadAndSeed(ctx, a.Catalog, cfg.CatalogPath); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		a.log.Info("Loaded catalog from %s", cfg.CatalogPath)
	}

	cache, purger := a.buildCache(ctx)
	publisher, indexer := a.buildPublishers(ctx)

	a.Ledger = ledger.NewService(stores.Ledger,
		ledger.WithCache(cache),
		ledger.WithPublisher(publisher),
		ledger.WithMetrics(a.Metrics),
		ledger.WithInitialBalances(cfg.InitialPoints, cfg.InitialWallet),
	)
	a.Deposits = deposit.NewService(stores.Workflow, a.Ledger, a.Metrics)
	a.Exchange = exchange.NewService(stores.Workflow, a.Catalog, a.Ledger, a.Metrics)
	a.Premium = premium.NewService(stores.Workflow, a.Catalog, a.Ledger, premium.Config{
		MicroBonusPoints:  cfg.MicroBonusPoints,
		MaxAccrualSeconds: cfg.MaxAccrualSeconds,
	}, a.Metrics)
	a.Reviews = review.NewGateway(a.Deposits, a.Premium)

	services := api.Services{
		Ledger:   a.Ledger,
		Deposits: a.Deposits,
		Exchange: a.Exchange,
		Premium:  a.Premium,
		Reviews:  a.Reviews,
		Catalog:  a.Catalog,
		Hub:      a.Hub,
		Metrics:  a.Metrics,
	}
	if indexer != nil {
		services.Audit = indexer
	}
	a.Handler = api.Routes(api.NewHandlers(services))

	a.Scheduler = scheduler.NewScheduler(a.Metrics)
	if err := a.Scheduler.AddCron(scheduler.TaskMembershipExpiry, cfg.ExpirySweepSchedule,
		scheduler.ExpiryJob(a.Premium, func() time.Time { return time.Now().UTC() })); err != nil {
		a.Close()
		return nil, err
	}
	if purger != nil {
		a.Scheduler.AddTask(scheduler.TaskCachePurge, cachePurgeInterval, scheduler.PurgeJob(purger))
	}

	if cfg.DiscordEnabled() {
		session, err := dsession.NewSession(cfg.DiscordToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create Discord session: %w", err)
		}
		a.Bot = discord.NewBot(session, discord.Config{
			AppID:          cfg.DiscordAppID,
			GuildID:        cfg.DiscordGuildID,
			ReviewerRoleID: cfg.ReviewerRoleID,
		}, a.Reviews, a.Deposits, a.Premium)
	}

	return a, nil
}

// buildCache prefers Redis when configured and reachable
func (a *App) buildCache(ctx context.Context) (idempotency.Cache, scheduler.Purger) {
	ttl := a.Config.IdempotencyTTL()
	if a.Config.RedisURL != "" {
		client, err := idempotency.Connect(ctx, a.Config.RedisURL)
		if err == nil {
			a.closers = append(a.closers, func() { client.Close() })
			a.log.Info("Using Redis idempotency cache")
			return idempotency.NewRedisCache(client, "", ttl), nil
		}
		a.log.Warn("Redis unavailable, falling back to in-process cache: %v", err)
	}
	mem := idempotency.NewMemoryCache(ttl)
	return mem, mem
}

// buildPublishers fans balance events out to the broker, websockets and audit index
func (a *App) buildPublishers(ctx context.Context) (events.Publisher, *audit.Indexer) {
	fanout := events.Fanout{a.Hub}

	if a.Config.RabbitMQURL != "" {
		pub, err := rabbitmq.NewPublisher(a.Config.RabbitMQURL, a.Config.BalanceExchange)
		if err != nil {
			a.log.Warn("RabbitMQ unavailable, balance events will not be brokered: %v", err)
			fanout = append(fanout, rabbitmq.NewFallback())
		} else {
			a.closers = append(a.closers, pub.Close)
			fanout = append(fanout, pub)
		}
	} else {
		fanout = append(fanout, rabbitmq.NewFallback())
	}

	var indexer *audit.Indexer
	if a.Config.ElasticsearchURL != "" {
		idx, err := audit.NewIndexer(ctx, audit.Config{
			URL:         a.Config.ElasticsearchURL,
			Username:    a.Config.ElasticsearchUsername,
			Password:    a.Config.ElasticsearchPassword,
			IndexPrefix: a.Config.ElasticsearchIndexPrefix,
		})
		if err != nil {
			a.log.Warn("Elasticsearch unavailable, audit index disabled: %v", err)
		} else {
			indexer = idx
			fanout = append(fanout, idx)
			a.log.Info("Indexing ledger entries into %s", idx.Index())
		}
	}

	return fanout, indexer
}

// Run serves HTTP and starts the background components until ctx is done
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	if a.Bot != nil {
		if err := a.Bot.Start(); err != nil {
			return fmt.Errorf("failed to start Discord bot: %w", err)
		}
		defer func() {
			if err := a.Bot.Stop(); err != nil {
				a.log.Warn("Error stopping Discord bot: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP API listening on %s", a.Config.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
