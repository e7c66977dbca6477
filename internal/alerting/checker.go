package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
	"github.com/hearthline/dealerdash/internal/metrics"
)

// RuleResult is returned by rule evaluators.
type RuleResult struct {
	AlertsCreated int `json:"alerts_created"`
}

// ResolutionResult is returned by resolution evaluators.
type ResolutionResult struct {
	AlertsResolved int `json:"alerts_resolved"`
}

// Checker runs the alert rules and resolutions against the repositories.
// Individual evaluators return data-access errors to the caller; per-entity
// failures are collected so one bad row does not abort a batch.
type Checker struct {
	orders    repository.OrderRepository
	materials repository.MaterialRepository
	alerts    repository.AlertRepository

	bus     *EventBus
	metrics *metrics.AlertMetrics
	log     logger.Logger
	now     func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *EventBus) CheckerOption {
	return func(c *Checker) { c.bus = bus }
}

// WithMetrics records alert counters.
func WithMetrics(m *metrics.AlertMetrics) CheckerOption {
	return func(c *Checker) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) CheckerOption {
	return func(c *Checker) { c.log = log }
}

// NewChecker creates a Checker over the given repositories.
func NewChecker(
	orders repository.OrderRepository,
	materials repository.MaterialRepository,
	alerts repository.AlertRepository,
	opts ...CheckerOption,
) *Checker {
	c := &Checker{
		orders:    orders,
		materials: materials,
		alerts:    alerts,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("alerting"))
	return c
}

// Now returns the checker's current time.
func (c *Checker) Now() time.Time {
	return c.now()
}

// createOnce inserts alert unless an unresolved alert matching filter already
// exists. A unique-index conflict from a concurrent writer counts as
// "already exists".
func (c *Checker) createOnce(ctx context.Context, filter repository.AlertFilter, alert *entities.Alert) (bool, error) {
	existing, err := c.alerts.ListUnresolved(ctx, filter)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = c.now()
	}
	if err := c.alerts.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, repository.ErrAlertExists) {
			c.metrics.DuplicateBlocked(alert.Category)
			c.log.Debug("alert already open, insert skipped",
				logger.String("title", alert.Title),
				logger.String("key", alert.IdempotencyKey()))
			return false, nil
		}
		return false, err
	}

	c.metrics.AlertCreated(alert.Category, alert.Priority)
	c.log.Info("alert created",
		logger.Uint64("alert_id", uint64(alert.ID)),
		logger.String("type", alert.Type),
		logger.String("title", alert.Title),
		logger.String("priority", alert.Priority))
	c.bus.Publish(&LifecycleEvent{Kind: EventCreated, Alert: *alert, Timestamp: alert.CreatedAt})
	return true, nil
}

// resolve marks alert resolved now and publishes the change. It reports false
// without counting or publishing when another writer resolved it first.
func (c *Checker) resolve(ctx context.Context, alert *entities.Alert, reason string) (bool, error) {
	resolved, changed, err := c.alerts.ResolveAlert(ctx, alert.ID, c.now())
	if err != nil {
		return false, err
	}
	if !changed {
		c.log.Debug("alert already resolved",
			logger.Uint64("alert_id", uint64(alert.ID)),
			logger.String("reason", reason))
		return false, nil
	}
	c.metrics.AlertResolved(resolved.Category, reason)
	c.log.Info("alert resolved",
		logger.Uint64("alert_id", uint64(resolved.ID)),
		logger.String("title", resolved.Title),
		logger.String("reason", reason))
	c.bus.Publish(&LifecycleEvent{Kind: EventResolved, Alert: *resolved, Reason: reason})
	return true, nil
}

// ResolveAlert resolves a single alert on behalf of an operator.
func (c *Checker) ResolveAlert(ctx context.Context, id uint) (*entities.Alert, error) {
	alert, err := c.alerts.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved {
		return alert, nil
	}
	if _, err := c.resolve(ctx, alert, ReasonManual); err != nil {
		return nil, err
	}
	return c.alerts.GetAlert(ctx, id)
}

// PurgeResolved deletes alerts resolved before cutoff.
func (c *Checker) PurgeResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := c.alerts.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("purged resolved alerts",
			logger.Int64("deleted", n),
			logger.Time("cutoff", cutoff))
	}
	return n, nil
}

func orderRef(id uint) *uint { return &id }
