package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// alertRepository implements AlertRepository.
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// ListUnresolved returns unresolved alerts matching the filter, oldest first.
func (r *alertRepository) ListUnresolved(ctx context.Context, filter AlertFilter) ([]entities.Alert, error) {
	var alerts []entities.Alert
	query := r.db.WithContext(ctx).Where("resolved = ?", false)

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Title != "" {
		query = query.Where("title = ?", filter.Title)
	}
	if filter.OrderID > 0 {
		query = query.Where("related_order_id = ?", filter.OrderID)
	}
	if filter.MaterialID > 0 {
		query = query.Where("related_material_id = ?", filter.MaterialID)
	}

	if err := query.Order("id ASC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list unresolved alerts: %w", err)
	}
	return alerts, nil
}

// CreateAlert inserts a new unresolved alert. The idempotency key is filled
// in when the caller left it empty. Returns ErrAlertExists when an unresolved
// alert with the same key is already stored.
func (r *alertRepository) CreateAlert(ctx context.Context, alert *entities.Alert) error {
	alert.Resolved = false
	alert.ResolvedAt = nil
	if alert.DedupeKey == nil {
		key := alert.IdempotencyKey()
		alert.DedupeKey = &key
	}

	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAlertExists
		}
		return fmt.Errorf("failed to create alert %q: %w", alert.Title, err)
	}
	return nil
}

// ResolveAlert marks an alert resolved at the given time and releases its
// idempotency key. Resolving an already resolved alert returns it unchanged
// with changed=false, so only the writer that flipped the row sees true.
func (r *alertRepository) ResolveAlert(ctx context.Context, id uint, at time.Time) (*entities.Alert, bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": at,
			"dedupe_key":  nil,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to resolve alert %d: %w", id, result.Error)
	}
	alert, err := r.GetAlert(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return alert, result.RowsAffected > 0, nil
}

// GetAlert returns ErrAlertNotFound if the alert does not exist.
func (r *alertRepository) GetAlert(ctx context.Context, id uint) (*entities.Alert, error) {
	var alert entities.Alert
	if err := r.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return &alert, nil
}

// ListAlerts returns alerts matching the filter, newest first, with the total
// count before pagination.
func (r *alertRepository) ListAlerts(ctx context.Context, filter AlertListFilter) ([]entities.Alert, int64, error) {
	var items []entities.Alert
	var total int64

	if err := r.applyListFilter(r.db.WithContext(ctx).Model(&entities.Alert{}), filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := r.applyListFilter(r.db.WithContext(ctx), filter).Order("created_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return items, total, nil
}

func (r *alertRepository) applyListFilter(query *gorm.DB, filter AlertListFilter) *gorm.DB {
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.Resolved != nil {
		query = query.Where("resolved = ?", *filter.Resolved)
	}
	if filter.OrderID > 0 {
		query = query.Where("related_order_id = ?", filter.OrderID)
	}
	if filter.MaterialID > 0 {
		query = query.Where("related_material_id = ?", filter.MaterialID)
	}
	return query
}

// DeleteResolvedBefore purges resolved alerts resolved before the given time.
func (r *alertRepository) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, before).
		Delete(&entities.Alert{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alerts resolved before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
