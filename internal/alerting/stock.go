package alerting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/datatypes"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

func lowStockFilter(materialID uint) repository.AlertFilter {
	return repository.AlertFilter{Type: entities.AlertTypeLowStock, MaterialID: materialID, Title: TitleLowStock}
}

func lowStockAlert(m *entities.Material) *entities.Alert {
	priority := entities.PriorityMedium
	if m.CurrentStock <= 0 {
		priority = entities.PriorityHigh
	}
	unit := m.Unit
	if unit == "" {
		unit = "units"
	}
	id := m.ID
	return &entities.Alert{
		Type:     entities.AlertTypeLowStock,
		Category: entities.CategoryLowStock,
		SubKind:  entities.SubKindLowStock,
		Title:    TitleLowStock,
		Message: printer.Sprintf("Material %s is low on stock: %d %s left (threshold %d).",
			m.Name, m.CurrentStock, unit, m.Threshold),
		Priority:          priority,
		RelatedMaterialID: &id,
		Details: datatypes.JSONMap{
			"material_name": m.Name,
			"current_stock": m.CurrentStock,
			"threshold":     m.Threshold,
		},
	}
}

// CheckLowStockAlerts raises "Low Stock Alert" for every material at or below
// its threshold. Out-of-stock materials get high priority.
func (c *Checker) CheckLowStockAlerts(ctx context.Context) (RuleResult, error) {
	var result RuleResult

	materials, err := c.materials.ListLowStockMaterials(ctx)
	if err != nil {
		return result, err
	}

	var errs error
	for i := range materials {
		m := &materials[i]
		created, err := c.createOnce(ctx, lowStockFilter(m.ID), lowStockAlert(m))
		if err != nil {
			c.log.Error("failed to create low stock alert",
				logger.Uint64("material_id", uint64(m.ID)),
				logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("material %s: %w", m.Name, err))
			continue
		}
		if created {
			result.AlertsCreated++
		}
	}
	return result, errs
}

// ResolveRestockedAlerts resolves open low-stock alerts whose material is
// back above its threshold. Alerts for deleted materials are skipped.
func (c *Checker) ResolveRestockedAlerts(ctx context.Context) (ResolutionResult, error) {
	var result ResolutionResult

	open, err := c.alerts.ListUnresolved(ctx, repository.AlertFilter{Type: entities.AlertTypeLowStock})
	if err != nil {
		return result, err
	}

	var errs error
	for i := range open {
		alert := &open[i]
		if alert.RelatedMaterialID == nil {
			continue
		}
		m, err := c.materials.GetMaterial(ctx, *alert.RelatedMaterialID)
		if errors.Is(err, repository.ErrMaterialNotFound) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("alert %d: %w", alert.ID, err))
			continue
		}
		if m.IsLowStock() {
			continue
		}
		changed, err := c.resolve(ctx, alert, ReasonConditionCleared)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("alert %d: %w", alert.ID, err))
			continue
		}
		if changed {
			result.AlertsResolved++
		}
	}
	return result, errs
}

// OnMaterialStockChanged applies the low-stock rule to a single material right
// after its stock was edited: it opens an alert when the material is low and
// resolves the open one when it has been restocked.
func (c *Checker) OnMaterialStockChanged(ctx context.Context, m *entities.Material) (RuleResult, ResolutionResult, error) {
	var (
		created  RuleResult
		resolved ResolutionResult
	)

	if m.IsLowStock() {
		ok, err := c.createOnce(ctx, lowStockFilter(m.ID), lowStockAlert(m))
		if err != nil {
			return created, resolved, err
		}
		if ok {
			created.AlertsCreated++
		}
		return created, resolved, nil
	}

	open, err := c.alerts.ListUnresolved(ctx, lowStockFilter(m.ID))
	if err != nil {
		return created, resolved, err
	}
	for i := range open {
		changed, err := c.resolve(ctx, &open[i], ReasonConditionCleared)
		if err != nil {
			return created, resolved, err
		}
		if changed {
			resolved.AlertsResolved++
		}
	}
	return created, resolved, nil
}
