package alerting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/datatypes"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

// CheckOverdueOrdersAlerts raises "Order Due Very Soon" for undelivered orders
// shipping in 1 to 3 days and "Order Overdue" for orders past their ship
// date. An order that goes overdue has its due-soon alert resolved as
// superseded first, so at most one tier is open per order.
func (c *Checker) CheckOverdueOrdersAlerts(ctx context.Context) (RuleResult, error) {
	var result RuleResult

	orders, err := c.orders.ListOrders(ctx, repository.OrderFilter{ExcludeDelivered: true, RequireShipDate: true})
	if err != nil {
		return result, err
	}

	now := c.now()
	var errs error
	for i := range orders {
		order := &orders[i]
		if order.IsDelivered() || order.EstimatedDelivery == nil {
			continue
		}

		d := DaysUntil(*order.EstimatedDelivery, now)
		var (
			created bool
			err     error
		)
		switch {
		case d < 0:
			if err = c.supersedeDueSoon(ctx, order.ID); err == nil {
				created, err = c.createOnce(ctx,
					repository.AlertFilter{Type: entities.AlertTypeDelay, OrderID: order.ID, Title: TitleOverdue},
					overdueAlert(order, -d))
			}
		case d <= dueVerySoonWithinDays && d > 0:
			created, err = c.createOnce(ctx,
				repository.AlertFilter{Type: entities.AlertTypeDelay, OrderID: order.ID, Title: TitleDueVerySoon},
				dueVerySoonAlert(order, d))
		default:
			continue
		}

		if err != nil {
			c.log.Error("failed to create shipping alert",
				logger.Uint64("order_id", uint64(order.ID)),
				logger.Int("days_until_ship", d),
				logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNumber, err))
			continue
		}
		if created {
			result.AlertsCreated++
		}
	}
	return result, errs
}

func dueVerySoonAlert(order *entities.Order, d int) *entities.Alert {
	return &entities.Alert{
		Type:           entities.AlertTypeDelay,
		Category:       entities.CategoryShippingDelay,
		SubKind:        entities.SubKindDueVerySoon,
		Title:          TitleDueVerySoon,
		Message:        fmt.Sprintf("Order %s is due to ship in %s.", order.OrderNumber, plural(d, "day")),
		Priority:       entities.PriorityMedium,
		RelatedOrderID: orderRef(order.ID),
		Details: datatypes.JSONMap{
			"order_number":    order.OrderNumber,
			"status":          order.Status,
			"days_until_ship": d,
		},
	}
}

func overdueAlert(order *entities.Order, daysOverdue int) *entities.Alert {
	return &entities.Alert{
		Type:           entities.AlertTypeDelay,
		Category:       entities.CategoryShippingDelay,
		SubKind:        entities.SubKindOverdue,
		Title:          TitleOverdue,
		Message:        fmt.Sprintf("Order %s is %s overdue for shipping.", order.OrderNumber, plural(daysOverdue, "day")),
		Priority:       entities.PriorityHigh,
		RelatedOrderID: orderRef(order.ID),
		Details: datatypes.JSONMap{
			"order_number": order.OrderNumber,
			"status":       order.Status,
			"days_overdue": daysOverdue,
		},
	}
}

// supersedeDueSoon resolves open due-soon alerts for an order that is now
// overdue.
func (c *Checker) supersedeDueSoon(ctx context.Context, orderID uint) error {
	open, err := c.alerts.ListUnresolved(ctx, repository.AlertFilter{
		Type: entities.AlertTypeDelay, OrderID: orderID, Title: TitleDueVerySoon,
	})
	if err != nil {
		return err
	}
	for i := range open {
		if _, err := c.resolve(ctx, &open[i], ReasonSuperseded); err != nil {
			return err
		}
	}
	return nil
}

// CheckStuckOrdersAlerts raises "Order Stuck in Production" for undelivered
// orders that have not changed for at least their stage threshold.
func (c *Checker) CheckStuckOrdersAlerts(ctx context.Context) (RuleResult, error) {
	var result RuleResult

	orders, err := c.orders.ListOrders(ctx, repository.OrderFilter{ExcludeDelivered: true})
	if err != nil {
		return result, err
	}

	now := c.now()
	var errs error
	for i := range orders {
		order := &orders[i]
		if order.UpdatedAt.IsZero() {
			continue
		}
		threshold, ok := StuckThreshold(order.Status)
		if !ok {
			continue
		}
		days := DaysSince(order.UpdatedAt, now)
		if days < threshold {
			continue
		}

		created, err := c.createOnce(ctx,
			repository.AlertFilter{Type: entities.AlertTypeDelay, OrderID: order.ID, Title: TitleStuck},
			&entities.Alert{
				Type:     entities.AlertTypeDelay,
				Category: entities.CategoryStuck,
				SubKind:  entities.SubKindStuckInStage,
				Title:    TitleStuck,
				Message: fmt.Sprintf("Order %s has been in %s status for %s (limit %s).",
					order.OrderNumber, order.Status, plural(days, "day"), plural(threshold, "day")),
				Priority:       entities.PriorityMedium,
				RelatedOrderID: orderRef(order.ID),
				Details: datatypes.JSONMap{
					"order_number":   order.OrderNumber,
					"status":         order.Status,
					"days_in_stage":  days,
					"threshold_days": threshold,
				},
			})
		if err != nil {
			c.log.Error("failed to create stuck order alert",
				logger.Uint64("order_id", uint64(order.ID)),
				logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNumber, err))
			continue
		}
		if created {
			result.AlertsCreated++
		}
	}
	return result, errs
}

// ResolveCompletedOverdueAlerts resolves open delay alerts whose condition no
// longer holds: the order was delivered, its ship date moved out of the
// window, or (for stuck alerts) it changed after the alert was raised.
func (c *Checker) ResolveCompletedOverdueAlerts(ctx context.Context) (ResolutionResult, error) {
	var result ResolutionResult

	open, err := c.alerts.ListUnresolved(ctx, repository.AlertFilter{Type: entities.AlertTypeDelay})
	if err != nil {
		return result, err
	}

	now := c.now()
	var errs error
	for i := range open {
		alert := &open[i]
		order, skip, err := c.relatedOrder(ctx, alert)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if skip || !delayCleared(alert, order, now) {
			continue
		}
		changed, err := c.resolve(ctx, alert, ReasonConditionCleared)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("alert %d: %w", alert.ID, err))
			continue
		}
		if changed {
			result.AlertsResolved++
		}
	}
	return result, errs
}

// relatedOrder loads the order an alert points at. skip is true when the
// alert has no order or the order no longer exists.
func (c *Checker) relatedOrder(ctx context.Context, alert *entities.Alert) (*entities.Order, bool, error) {
	if alert.RelatedOrderID == nil {
		return nil, true, nil
	}
	order, err := c.orders.GetOrder(ctx, *alert.RelatedOrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		c.log.Debug("alert references missing order, skipping",
			logger.Uint64("alert_id", uint64(alert.ID)),
			logger.Uint64("order_id", uint64(*alert.RelatedOrderID)))
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("alert %d: %w", alert.ID, err)
	}
	return order, false, nil
}
