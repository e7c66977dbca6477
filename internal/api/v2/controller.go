// Package api implements the v2 JSON endpoints for the alert feed and
// material stock.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hearthline/dealerdash/internal/alerting"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

// QueryValueTrue is the accepted spelling of a true boolean query parameter.
const QueryValueTrue = "true"

// AlertRunner runs the alert pipeline on demand and reports scheduler state.
// *alerting.Scheduler implements it.
type AlertRunner interface {
	RunAlertChecks(ctx context.Context) alerting.RunReport
	Status() alerting.SchedulerStatus
}

// Controller holds the dependencies of the v2 handlers.
type Controller struct {
	Group *echo.Group

	alerts    repository.AlertRepository
	materials repository.MaterialRepository
	checker   *alerting.Checker
	runner    AlertRunner
	log       logger.Logger
}

// Deps are the collaborators a Controller needs.
type Deps struct {
	Alerts    repository.AlertRepository
	Materials repository.MaterialRepository
	Checker   *alerting.Checker
	Runner    AlertRunner
	Logger    logger.Logger
}

// New registers every v2 route on group.
func New(group *echo.Group, deps Deps) *Controller {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{
		Group:     group,
		alerts:    deps.Alerts,
		materials: deps.Materials,
		checker:   deps.Checker,
		runner:    deps.Runner,
		log:       log.With(logger.Component("api")),
	}
	c.initAlertRoutes()
	c.initMaterialRoutes()
	return c
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleError logs err and replies with status and a user-facing message.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, status int) error {
	if status >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}
	return ctx.JSON(status, ErrorResponse{Error: message, Message: err.Error()})
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

func notFound(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusNotFound, ErrorResponse{Error: message})
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// queryInt parses an optional integer query parameter.
func queryInt(ctx echo.Context, name string, def int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
