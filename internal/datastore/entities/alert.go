package entities

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Alert types. "critical" is the historical name for payment alerts and is
// kept so existing dashboards keep filtering correctly; Category carries the
// actual meaning.
const (
	AlertTypeCritical = "critical"
	AlertTypeDelay    = "delay"
	AlertTypeLowStock = "lowStock"
	AlertTypeInfo     = "info"
)

// Alert categories.
const (
	CategoryPayment       = "payment"
	CategoryShippingDelay = "shipping_delay"
	CategoryStuck         = "stuck"
	CategoryLowStock      = "low_stock"
	CategorySystem        = "system"
)

// Alert sub-kinds identify the rule that raised an alert.
const (
	SubKindPaymentOverdue   = "payment_overdue"
	SubKindDueVerySoon      = "due_very_soon"
	SubKindOverdue          = "overdue"
	SubKindStuckInStage     = "stuck_in_stage"
	SubKindLowStock         = "low_stock"
	SubKindSchedulerFailure = "scheduler_failure"
)

// Alert priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Alert is an operational alert shown in the dashboard feed.
//
// DedupeKey holds the idempotency key while the alert is unresolved and is
// cleared on resolve, so the unique index admits one open alert per key and
// any number of resolved ones.
type Alert struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	Type              string            `gorm:"size:20;not null;index:idx_alerts_open_type,priority:2" json:"type"`
	Category          string            `gorm:"size:32;not null;default:''" json:"category"`
	SubKind           string            `gorm:"size:32;not null;default:''" json:"sub_kind"`
	Title             string            `gorm:"size:255;not null" json:"title"`
	Message           string            `gorm:"size:2000;not null;default:''" json:"message"`
	Priority          string            `gorm:"size:10;not null;default:medium" json:"priority"`
	Resolved          bool              `gorm:"not null;default:false;index:idx_alerts_open_type,priority:1" json:"resolved"`
	RelatedOrderID    *uint             `gorm:"index" json:"related_order_id"`
	RelatedMaterialID *uint             `gorm:"index" json:"related_material_id"`
	DedupeKey         *string           `gorm:"size:191;uniqueIndex" json:"-"`
	Details           datatypes.JSONMap `json:"details,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt        *time.Time        `json:"resolved_at"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// IdempotencyKey returns the (related entity, type, title) key that allows at
// most one unresolved alert. Alerts without a related entity share a key per
// type and title.
func (a *Alert) IdempotencyKey() string {
	switch {
	case a.RelatedOrderID != nil:
		return fmt.Sprintf("order:%d|%s|%s", *a.RelatedOrderID, a.Type, a.Title)
	case a.RelatedMaterialID != nil:
		return fmt.Sprintf("material:%d|%s|%s", *a.RelatedMaterialID, a.Type, a.Title)
	default:
		return fmt.Sprintf("global|%s|%s", a.Type, a.Title)
	}
}

// PriorityRank orders priorities from low (1) to high (3). Unknown values rank 0.
func PriorityRank(p string) int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}
