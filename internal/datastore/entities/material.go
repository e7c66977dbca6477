package entities

import "time"

// Material is a raw material tracked in inventory.
type Material struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Unit         string    `gorm:"size:32;default:'pcs'" json:"unit"`
	CurrentStock int       `gorm:"not null;default:0" json:"current_stock"`
	Threshold    int       `gorm:"not null;default:0" json:"threshold"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Material) TableName() string {
	return "materials"
}

// IsLowStock reports whether stock has fallen to or below the threshold.
func (m *Material) IsLowStock() bool {
	return m.CurrentStock <= m.Threshold
}
