package repository

import (
	"context"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

// MaterialRepository handles raw material inventory.
type MaterialRepository interface {
	CreateMaterial(ctx context.Context, material *entities.Material) error
	GetMaterial(ctx context.Context, id uint) (*entities.Material, error)
	ListMaterials(ctx context.Context) ([]entities.Material, error)
	ListLowStockMaterials(ctx context.Context) ([]entities.Material, error)
	UpdateStock(ctx context.Context, id uint, stock int) (*entities.Material, error)
}
