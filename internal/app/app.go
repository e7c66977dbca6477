// Package app wires settings into a running dealerdash process: database,
// alert checker and scheduler, notification and broker fan-out, and the
// HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hearthline/dealerdash/internal/alerting"
	"github.com/hearthline/dealerdash/internal/api"
	v2 "github.com/hearthline/dealerdash/internal/api/v2"
	"github.com/hearthline/dealerdash/internal/broker"
	"github.com/hearthline/dealerdash/internal/conf"
	"github.com/hearthline/dealerdash/internal/datastore"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/lock"
	"github.com/hearthline/dealerdash/internal/logger"
	"github.com/hearthline/dealerdash/internal/metrics"
	"github.com/hearthline/dealerdash/internal/notification"
)

const sentryFlushTimeout = 2 * time.Second

// App holds the wired components of one process.
type App struct {
	settings *conf.Settings
	log      logger.Logger

	db        *datastore.Manager
	registry  *prometheus.Registry
	bus       *alerting.EventBus
	checker   *alerting.Checker
	scheduler *alerting.Scheduler
	server    *api.Server

	publisher   *broker.Publisher
	redis       *redis.Client
	sentryReady bool
}

// New connects to every configured backend and assembles the App. On error
// everything opened so far is closed.
func New(ctx context.Context, s *conf.Settings, log logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{settings: s, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if s.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         s.Sentry.DSN,
			Environment: s.App.Environment,
			ServerName:  s.App.Name,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialise sentry: %w", err)
		}
		a.sentryReady = true
	}

	a.db, err = datastore.Open(s.Database, log)
	if err != nil {
		return nil, err
	}
	if err := a.db.Migrate(); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewAlertMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	a.bus = alerting.NewEventBus(log)

	notifier, err := a.buildNotifier(m)
	if err != nil {
		return nil, err
	}
	a.bus.Subscribe(alerting.NewNotificationDispatcher(notifier, alerting.DispatcherConfig{
		Recipient:   s.Notification.DefaultRecipient,
		MinPriority: s.Notification.MinPriority,
	}, log).Handle)

	if s.Broker.Enabled {
		a.publisher, err = broker.Dial(s.Broker.URL, s.Broker.Exchange, log, m)
		if err != nil {
			return nil, err
		}
		a.bus.Subscribe(a.publisher.Handle)
	}

	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}

	orders := repository.NewOrderRepository(a.db.DB())
	materials := repository.NewMaterialRepository(a.db.DB())
	alerts := repository.NewAlertRepository(a.db.DB())

	a.checker = alerting.NewChecker(orders, materials, alerts,
		alerting.WithEventBus(a.bus),
		alerting.WithMetrics(m),
		alerting.WithLogger(log))

	schedOpts := []alerting.SchedulerOption{
		alerting.WithLocker(locker),
		alerting.WithNotifier(notifier),
		alerting.WithSchedulerEventBus(a.bus),
		alerting.WithSchedulerMetrics(m),
		alerting.WithSchedulerLogger(log),
	}
	if a.sentryReady {
		schedOpts = append(schedOpts, alerting.WithExhaustedHook(captureExhausted))
	}
	a.scheduler = alerting.NewScheduler(a.checker, schedulerConfig(s), schedOpts...)

	var runner v2.AlertRunner
	if s.Alerting.Enabled {
		runner = a.scheduler
	}
	a.server = api.NewServer(api.Config{
		Listen:   s.HTTP.Listen,
		Gatherer: a.registry,
		Ping:     a.db.Ping,
	}, v2.Deps{
		Alerts:    alerts,
		Materials: materials,
		Checker:   a.checker,
		Runner:    runner,
		Logger:    log,
	}, log)

	return a, nil
}

func schedulerConfig(s *conf.Settings) alerting.SchedulerConfig {
	return alerting.SchedulerConfig{
		Spec:            s.Alerting.Schedule,
		IncludeLowStock: s.Alerting.IncludeLowStock,
		Retry: alerting.RetryPolicy{
			MaxAttempts: s.Alerting.Retry.MaxAttempts,
			BaseDelay:   s.Alerting.Retry.BaseDelay.Std(),
			MaxDelay:    s.Alerting.Retry.MaxDelay.Std(),
		},
		LockTTL:       s.Alerting.LockTTL.Std(),
		RetentionDays: s.Alerting.ResolvedRetentionDays,
		Recipient:     s.Notification.DefaultRecipient,
	}
}

func (a *App) buildNotifier(m *metrics.AlertMetrics) (alerting.Notifier, error) {
	if !a.settings.Notification.Enabled {
		return notification.NopNotifier{}, nil
	}
	n, err := notification.NewShoutrrrNotifier(
		notification.ConfigFromSettings(a.settings.Notification),
		notification.WithLogger(a.log),
		notification.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// buildLocker uses redis when an address is configured, so several
// instances share one run per tick. Otherwise the lock is process-local.
func (a *App) buildLocker(ctx context.Context) (alerting.Locker, error) {
	if a.settings.Redis.Addr == "" {
		return lock.NewLocalLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, a.settings.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return lock.NewRedisLocker(client, a.settings.App.Name), nil
}

func captureExhausted(report alerting.RunReport, cause error) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", report.RunID)
		scope.SetExtra("attempts", report.Attempts)
		scope.SetExtra("steps", report.Steps)
		hub.CaptureException(cause)
	})
}

// Server returns the HTTP server.
func (a *App) Server() *api.Server { return a.server }

// Scheduler returns the alert scheduler.
func (a *App) Scheduler() *alerting.Scheduler { return a.scheduler }

// RunOnce executes a single alert check run.
func (a *App) RunOnce(ctx context.Context) alerting.RunReport {
	return a.scheduler.RunAlertChecks(ctx)
}

// Run serves HTTP and, when enabled, runs the alert scheduler until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if !a.settings.Alerting.Enabled {
		a.log.Info("alert checks disabled")
		return a.server.Run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.scheduler.Start(gctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	g.Go(func() error { return a.server.Run(gctx) })
	if a.settings.Alerting.RunOnStart {
		g.Go(func() error {
			a.scheduler.RunAlertChecks(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases every backend. Safe on a partially built App.
func (a *App) Close() error {
	var err error
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.publisher != nil {
		err = multierr.Append(err, a.publisher.Close())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	if a.sentryReady {
		sentry.Flush(sentryFlushTimeout)
	}
	return err
}
