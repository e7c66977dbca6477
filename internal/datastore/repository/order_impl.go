package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// orderRepository implements OrderRepository.
type orderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db, now: time.Now}
}

// ListOrders returns orders matching the filter, oldest first.
func (r *orderRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]entities.Order, error) {
	var orders []entities.Order
	query := r.db.WithContext(ctx)

	if filter.ExcludeDelivered {
		query = query.Where("status <> ?", entities.OrderStatusDelivered)
	}
	if filter.RequireShipDate {
		query = query.Where("estimated_delivery IS NOT NULL")
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	if err := query.Order("id ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns a single order. Returns ErrOrderNotFound if it does not exist.
func (r *orderRepository) GetOrder(ctx context.Context, id uint) (*entities.Order, error) {
	var order entities.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// CreateOrder inserts a new order, defaulting empty statuses.
func (r *orderRepository) CreateOrder(ctx context.Context, order *entities.Order) error {
	if order.Status == "" {
		order.Status = entities.OrderStatusReceived
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = entities.PaymentStatusUnpaid
	}
	if !entities.ValidOrderStatus(order.Status) || !entities.ValidPaymentStatus(order.PaymentStatus) {
		return fmt.Errorf("failed to create order %s: %w", order.OrderNumber, ErrInvalidStatus)
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order %s: %w", order.OrderNumber, err)
	}
	return nil
}

// UpdateOrderStatus moves an order to a later workflow stage. Moving to
// delivered stamps the actual delivery time.
func (r *orderRepository) UpdateOrderStatus(ctx context.Context, id uint, status string) (*entities.Order, error) {
	if !entities.ValidOrderStatus(status) {
		return nil, fmt.Errorf("failed to update order %d: %w: %q", id, ErrInvalidStatus, status)
	}

	current, err := r.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if entities.OrderStatusRank(status) < entities.OrderStatusRank(current.Status) {
		return nil, fmt.Errorf("failed to update order %d from %s to %s: %w", id, current.Status, status, ErrInvalidTransition)
	}

	updates := map[string]any{"status": status}
	if status == entities.OrderStatusDelivered {
		updates["actual_delivery"] = r.now()
	}
	return r.update(ctx, id, updates)
}

// UpdatePaymentStatus sets the payment status of an order.
func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, id uint, status string) (*entities.Order, error) {
	if !entities.ValidPaymentStatus(status) {
		return nil, fmt.Errorf("failed to update payment of order %d: %w: %q", id, ErrInvalidStatus, status)
	}
	return r.update(ctx, id, map[string]any{"payment_status": status})
}

// SetEstimatedDelivery sets or clears the estimated ship date.
func (r *orderRepository) SetEstimatedDelivery(ctx context.Context, id uint, at *time.Time) (*entities.Order, error) {
	return r.update(ctx, id, map[string]any{"estimated_delivery": at})
}

func (r *orderRepository) update(ctx context.Context, id uint, updates map[string]any) (*entities.Order, error) {
	result := r.db.WithContext(ctx).Model(&entities.Order{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrOrderNotFound
	}
	return r.GetOrder(ctx, id)
}
