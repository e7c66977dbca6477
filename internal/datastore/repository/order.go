package repository

import (
	"context"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// OrderRepository reads and updates dealer orders.
type OrderRepository interface {
	ListOrders(ctx context.Context, filter OrderFilter) ([]entities.Order, error)
	GetOrder(ctx context.Context, id uint) (*entities.Order, error)

	CreateOrder(ctx context.Context, order *entities.Order) error
	UpdateOrderStatus(ctx context.Context, id uint, status string) (*entities.Order, error)
	UpdatePaymentStatus(ctx context.Context, id uint, status string) (*entities.Order, error)
	SetEstimatedDelivery(ctx context.Context, id uint, at *time.Time) (*entities.Order, error)
}

// OrderFilter narrows ListOrders. The zero value lists every order.
type OrderFilter struct {
	ExcludeDelivered bool
	RequireShipDate  bool
	Statuses         []string
}
