package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order workflow statuses. Orders only move forward through these stages.
const (
	OrderStatusReceived      = "received"
	OrderStatusSentToFactory = "sentToFactory"
	OrderStatusInProduction  = "inProduction"
	OrderStatusDelivered     = "delivered"
)

// Payment statuses.
const (
	PaymentStatusUnpaid        = "unpaid"
	PaymentStatusPartiallyPaid = "partiallyPaid"
	PaymentStatusFullyPaid     = "fullyPaid"
)

// Order is a dealer order moving through the factory pipeline.
// UpdatedAt is bumped on every status or field change and doubles as the
// time the order entered its current stage.
type Order struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OrderNumber       string          `gorm:"size:64;not null;uniqueIndex" json:"order_number"`
	DealerName        string          `gorm:"size:255;default:''" json:"dealer_name"`
	Status            string          `gorm:"size:32;not null;default:received;index" json:"status"`
	PaymentStatus     string          `gorm:"size:32;not null;default:unpaid;index" json:"payment_status"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery"`
	ActualDelivery    *time.Time      `json:"actual_delivery"`
	TotalValue        decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"total_value"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Order) TableName() string {
	return "orders"
}

// IsDelivered reports whether the order has reached its final stage.
func (o *Order) IsDelivered() bool {
	return o.Status == OrderStatusDelivered
}

// IsFullyPaid reports whether nothing is owed on the order.
func (o *Order) IsFullyPaid() bool {
	return o.PaymentStatus == PaymentStatusFullyPaid
}

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusReceived, OrderStatusSentToFactory, OrderStatusInProduction, OrderStatusDelivered:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPartiallyPaid, PaymentStatusFullyPaid:
		return true
	}
	return false
}

// OrderStatusRank returns the position of s in the workflow, starting at 1.
// Unknown statuses rank 0.
func OrderStatusRank(s string) int {
	switch s {
	case OrderStatusReceived:
		return 1
	case OrderStatusSentToFactory:
		return 2
	case OrderStatusInProduction:
		return 3
	case OrderStatusDelivered:
		return 4
	}
	return 0
}
