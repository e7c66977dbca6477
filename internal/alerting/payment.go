package alerting

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/datatypes"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

// paymentTier returns the priority and message for an unpaid order whose ship
// date is d days away, or ok=false when it is too far out to alert.
func paymentTier(order *entities.Order, d int) (priority, msg string, ok bool) {
	amount := formatMoney(order.TotalValue)
	switch {
	case d <= 0:
		return entities.PriorityHigh,
			fmt.Sprintf("URGENT: Payment of %s for order %s is required. The estimated ship date has passed.",
				amount, order.OrderNumber), true
	case d <= paymentMediumWithinDays:
		return entities.PriorityMedium,
			fmt.Sprintf("Payment of %s for order %s is needed within %s to ship on time.",
				amount, order.OrderNumber, plural(d, "day")), true
	case d <= paymentLowWithinDays:
		return entities.PriorityLow,
			fmt.Sprintf("Payment of %s for order %s is due soon. Estimated ship date in %s.",
				amount, order.OrderNumber, plural(d, "day")), true
	}
	return "", "", false
}

// CheckPaymentOverdueAlerts raises a payment alert for every undelivered,
// not fully paid order shipping within a week or already past its ship date.
// Any open payment alert for the order suppresses a new one; the tier of an
// existing alert is not upgraded.
func (c *Checker) CheckPaymentOverdueAlerts(ctx context.Context) (RuleResult, error) {
	var result RuleResult

	orders, err := c.orders.ListOrders(ctx, repository.OrderFilter{ExcludeDelivered: true, RequireShipDate: true})
	if err != nil {
		return result, err
	}

	now := c.now()
	var errs error
	for i := range orders {
		order := &orders[i]
		if order.IsDelivered() || order.IsFullyPaid() || order.EstimatedDelivery == nil {
			continue
		}

		d := DaysUntil(*order.EstimatedDelivery, now)
		priority, msg, ok := paymentTier(order, d)
		if !ok {
			continue
		}

		created, err := c.createOnce(ctx,
			repository.AlertFilter{Type: entities.AlertTypeCritical, OrderID: order.ID},
			&entities.Alert{
				Type:           entities.AlertTypeCritical,
				Category:       entities.CategoryPayment,
				SubKind:        entities.SubKindPaymentOverdue,
				Title:          TitlePaymentRequired,
				Message:        msg,
				Priority:       priority,
				RelatedOrderID: orderRef(order.ID),
				Details: datatypes.JSONMap{
					"order_number":    order.OrderNumber,
					"payment_status":  order.PaymentStatus,
					"days_until_ship": d,
					"total_value":     order.TotalValue.StringFixed(2),
				},
			})
		if err != nil {
			c.log.Error("failed to create payment alert",
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

// ResolveCompletedPaymentAlerts resolves open payment alerts whose order is
// fully paid or delivered. Alerts pointing at a missing order are left alone.
func (c *Checker) ResolveCompletedPaymentAlerts(ctx context.Context) (ResolutionResult, error) {
	var result ResolutionResult

	open, err := c.alerts.ListUnresolved(ctx, repository.AlertFilter{Type: entities.AlertTypeCritical})
	if err != nil {
		return result, err
	}

	var errs error
	for i := range open {
		alert := &open[i]
		order, skip, err := c.relatedOrder(ctx, alert)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if skip {
			continue
		}
		if !order.IsFullyPaid() && !order.IsDelivered() {
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
