package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

func (c *Controller) initMaterialRoutes() {
	materials := c.Group.Group("/materials")

	materials.GET("/low-stock", c.ListLowStockMaterials)
	materials.PATCH("/:id/stock", c.UpdateMaterialStock)
}

// ListLowStockMaterials returns materials at or below their threshold, lowest
// stock first.
func (c *Controller) ListLowStockMaterials(ctx echo.Context) error {
	materials, err := c.materials.ListLowStockMaterials(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list low stock materials", http.StatusInternalServerError)
	}
	if materials == nil {
		materials = []entities.Material{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"materials": materials,
		"count":     len(materials),
	})
}

// StockUpdateRequest is the body of PATCH /materials/:id/stock.
type StockUpdateRequest struct {
	CurrentStock *int `json:"current_stock"`
}

// StockUpdateResponse reports the updated material and any alert change.
type StockUpdateResponse struct {
	Material       *entities.Material `json:"material"`
	AlertsCreated  int                `json:"alerts_created"`
	AlertsResolved int                `json:"alerts_resolved"`
}

// UpdateMaterialStock sets a material's stock and immediately applies the
// low-stock rule to it. An alert failure is logged; the stock change stands.
func (c *Controller) UpdateMaterialStock(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid material ID")
	}

	var req StockUpdateRequest
	if err := ctx.Bind(&req); err != nil || req.CurrentStock == nil {
		return badRequest(ctx, "current_stock is required")
	}

	reqCtx := ctx.Request().Context()
	material, err := c.materials.UpdateStock(reqCtx, id, *req.CurrentStock)
	switch {
	case errors.Is(err, repository.ErrMaterialNotFound):
		return notFound(ctx, "Material not found")
	case errors.Is(err, repository.ErrInvalidStock):
		return badRequest(ctx, "Stock cannot be negative")
	case err != nil:
		return c.HandleError(ctx, err, "Failed to update stock", http.StatusInternalServerError)
	}

	resp := StockUpdateResponse{Material: material}
	created, resolved, err := c.checker.OnMaterialStockChanged(reqCtx, material)
	if err != nil {
		c.log.Warn("low stock check after stock update failed",
			logger.Uint64("material_id", uint64(id)),
			logger.Error(err))
	}
	resp.AlertsCreated = created.AlertsCreated
	resp.AlertsResolved = resolved.AlertsResolved

	return ctx.JSON(http.StatusOK, resp)
}
