package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// materialRepository implements MaterialRepository.
type materialRepository struct {
	db *gorm.DB
}

// NewMaterialRepository creates a new MaterialRepository.
func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepository{db: db}
}

func (r *materialRepository) CreateMaterial(ctx context.Context, material *entities.Material) error {
	if material.CurrentStock < 0 {
		return fmt.Errorf("failed to create material %s: %w", material.Name, ErrInvalidStock)
	}
	if err := r.db.WithContext(ctx).Create(material).Error; err != nil {
		return fmt.Errorf("failed to create material %s: %w", material.Name, err)
	}
	return nil
}

// GetMaterial returns ErrMaterialNotFound if the material does not exist.
func (r *materialRepository) GetMaterial(ctx context.Context, id uint) (*entities.Material, error) {
	var material entities.Material
	if err := r.db.WithContext(ctx).First(&material, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("failed to get material %d: %w", id, err)
	}
	return &material, nil
}

func (r *materialRepository) ListMaterials(ctx context.Context) ([]entities.Material, error) {
	var materials []entities.Material
	if err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	return materials, nil
}

// ListLowStockMaterials returns materials at or below their threshold.
func (r *materialRepository) ListLowStockMaterials(ctx context.Context) ([]entities.Material, error) {
	var materials []entities.Material
	err := r.db.WithContext(ctx).
		Where("current_stock <= threshold").
		Order("current_stock ASC, id ASC").
		Find(&materials).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list low stock materials: %w", err)
	}
	return materials, nil
}

// UpdateStock sets the current stock level and returns the updated material.
func (r *materialRepository) UpdateStock(ctx context.Context, id uint, stock int) (*entities.Material, error) {
	if stock < 0 {
		return nil, fmt.Errorf("failed to update stock of material %d: %w", id, ErrInvalidStock)
	}
	result := r.db.WithContext(ctx).Model(&entities.Material{}).Where("id = ?", id).Update("current_stock", stock)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update stock of material %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrMaterialNotFound
	}
	return r.GetMaterial(ctx, id)
}
