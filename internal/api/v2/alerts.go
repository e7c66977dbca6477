package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 200
)

// initAlertRoutes registers alert feed endpoints.
func (c *Controller) initAlertRoutes() {
	alerts := c.Group.Group("/alerts")

	alerts.GET("", c.ListAlerts)
	alerts.GET("/scheduler", c.GetSchedulerStatus)
	alerts.GET("/:id", c.GetAlert)
	alerts.POST("/:id/resolve", c.ResolveAlert)
	alerts.POST("/check", c.RunAlertChecks)
}

// ListAlerts returns the alert feed, newest first.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	limit, err := queryInt(ctx, "limit", defaultAlertLimit)
	if err != nil || limit < 1 {
		return badRequest(ctx, "Invalid limit")
	}
	limit = min(limit, maxAlertLimit)
	offset, err := queryInt(ctx, "offset", 0)
	if err != nil || offset < 0 {
		return badRequest(ctx, "Invalid offset")
	}

	filter := repository.AlertListFilter{
		Type:     ctx.QueryParam("type"),
		Category: ctx.QueryParam("category"),
		Priority: ctx.QueryParam("priority"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := ctx.QueryParam("resolved"); raw != "" {
		v := raw == QueryValueTrue
		filter.Resolved = &v
	}
	if raw := ctx.QueryParam("order_id"); raw != "" {
		id, err := queryInt(ctx, "order_id", 0)
		if err != nil || id < 1 {
			return badRequest(ctx, "Invalid order_id")
		}
		filter.OrderID = uint(id)
	}
	if raw := ctx.QueryParam("material_id"); raw != "" {
		id, err := queryInt(ctx, "material_id", 0)
		if err != nil || id < 1 {
			return badRequest(ctx, "Invalid material_id")
		}
		filter.MaterialID = uint(id)
	}

	alerts, total, err := c.alerts.ListAlerts(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alerts", http.StatusInternalServerError)
	}
	if alerts == nil {
		alerts = []entities.Alert{}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetAlert returns a single alert by ID.
func (c *Controller) GetAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}

	alert, err := c.alerts.GetAlert(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return notFound(ctx, "Alert not found")
		}
		return c.HandleError(ctx, err, "Failed to get alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, alert)
}

// ResolveAlert resolves an alert on behalf of an operator. Resolving an
// already resolved alert returns it unchanged.
func (c *Controller) ResolveAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}

	alert, err := c.checker.ResolveAlert(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return notFound(ctx, "Alert not found")
		}
		return c.HandleError(ctx, err, "Failed to resolve alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, alert)
}

// RunAlertChecks runs the pipeline once and returns its report. A run that
// overlaps another replies 409.
func (c *Controller) RunAlertChecks(ctx echo.Context) error {
	if c.runner == nil {
		return ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Alert checks are disabled"})
	}

	report := c.runner.RunAlertChecks(ctx.Request().Context())
	switch {
	case report.Skipped:
		return ctx.JSON(http.StatusConflict, report)
	case !report.Succeeded():
		return ctx.JSON(http.StatusInternalServerError, report)
	}
	return ctx.JSON(http.StatusOK, report)
}

// GetSchedulerStatus returns the scheduler state and last run.
func (c *Controller) GetSchedulerStatus(ctx echo.Context) error {
	if c.runner == nil {
		return ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Alert checks are disabled"})
	}
	return ctx.JSON(http.StatusOK, c.runner.Status())
}
