// Package alerting evaluates orders and materials on a schedule, raising
// alerts when a rule matches and resolving them when the condition clears.
package alerting

import "github.com/hearthline/dealerdash/internal/datastore/entities"

// Alert titles. Together with the alert type and related entity they form the
// idempotency key, so changing one orphans every open alert that uses it.
const (
	TitlePaymentRequired  = "Payment Required"
	TitleDueVerySoon      = "Order Due Very Soon"
	TitleOverdue          = "Order Overdue"
	TitleStuck            = "Order Stuck in Production"
	TitleLowStock         = "Low Stock Alert"
	TitleSchedulerFailure = "Alert Checks Failing"
)

// Payment tiers, in days until the estimated ship date.
const (
	paymentMediumWithinDays = 3
	paymentLowWithinDays    = 7
)

// dueVerySoonWithinDays bounds the "Order Due Very Soon" window (0, N].
const dueVerySoonWithinDays = 3

// stuckThresholdDays maps an order status to the number of days it may sit in
// that stage before it counts as stuck. Delivered orders are never stuck.
var stuckThresholdDays = map[string]int{
	entities.OrderStatusReceived:      7,
	entities.OrderStatusSentToFactory: 14,
	entities.OrderStatusInProduction:  21,
}

// StuckThreshold returns the stuck threshold for status and whether one applies.
func StuckThreshold(status string) (int, bool) {
	d, ok := stuckThresholdDays[status]
	return d, ok
}

// Resolution reasons recorded on lifecycle events and metrics.
const (
	ReasonConditionCleared = "condition_cleared"
	ReasonSuperseded       = "superseded"
	ReasonManual           = "manual"
	ReasonRecovered        = "recovered"
)

// Pipeline step names, in execution order.
const (
	StepPaymentOverdue = "payment_overdue"
	StepPaymentResolve = "payment_resolve"
	StepOrderOverdue   = "order_overdue"
	StepOrderStuck     = "order_stuck"
	StepOverdueResolve = "overdue_resolve"
	StepLowStock       = "low_stock"
	StepRestockResolve = "restock_resolve"
)
