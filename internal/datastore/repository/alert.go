package repository

import (
	"context"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// AlertRepository handles alert persistence and the resolve transition.
type AlertRepository interface {
	// Lifecycle
	ListUnresolved(ctx context.Context, filter AlertFilter) ([]entities.Alert, error)
	CreateAlert(ctx context.Context, alert *entities.Alert) error
	// ResolveAlert reports changed=false when the alert was already resolved.
	ResolveAlert(ctx context.Context, id uint, at time.Time) (alert *entities.Alert, changed bool, err error)

	// Feed
	GetAlert(ctx context.Context, id uint) (*entities.Alert, error)
	ListAlerts(ctx context.Context, filter AlertListFilter) ([]entities.Alert, int64, error)

	// Retention
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertFilter narrows ListUnresolved. Empty fields match everything.
type AlertFilter struct {
	Type       string
	Title      string
	OrderID    uint
	MaterialID uint
}

// AlertListFilter controls the paginated alert feed.
type AlertListFilter struct {
	Type       string
	Category   string
	Priority   string
	Resolved   *bool
	OrderID    uint
	MaterialID uint
	Limit      int
	Offset     int
}
