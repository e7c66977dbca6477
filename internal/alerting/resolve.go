package alerting

import (
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// legacySubKinds maps titles to sub-kinds for rows written before sub_kind
// was stored.
var legacySubKinds = map[string]string{
	TitlePaymentRequired: entities.SubKindPaymentOverdue,
	TitleDueVerySoon:     entities.SubKindDueVerySoon,
	TitleOverdue:         entities.SubKindOverdue,
	TitleStuck:           entities.SubKindStuckInStage,
	TitleLowStock:        entities.SubKindLowStock,
}

// subKindOf returns the alert's sub-kind, falling back to its title.
func subKindOf(alert *entities.Alert) string {
	if alert.SubKind != "" {
		return alert.SubKind
	}
	return legacySubKinds[alert.Title]
}

// delayCleared reports whether a delay alert's condition no longer holds.
// An order without a ship date can be neither due soon nor overdue.
func delayCleared(alert *entities.Alert, order *entities.Order, now time.Time) bool {
	if order.IsDelivered() {
		return true
	}

	switch subKindOf(alert) {
	case entities.SubKindDueVerySoon:
		if order.EstimatedDelivery == nil {
			return true
		}
		return DaysUntil(*order.EstimatedDelivery, now) > dueVerySoonWithinDays
	case entities.SubKindOverdue:
		if order.EstimatedDelivery == nil {
			return true
		}
		return order.EstimatedDelivery.After(now)
	case entities.SubKindStuckInStage:
		return order.UpdatedAt.After(alert.CreatedAt)
	}
	return false
}
