package alerting

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
)

var schedulerFailureFilter = repository.AlertFilter{
	Type:  entities.AlertTypeInfo,
	Title: TitleSchedulerFailure,
}

// RaiseSchedulerFailure records an exhausted run as a system alert so it shows
// in the dashboard feed. It is best effort: the store may be the reason the
// run failed.
func (c *Checker) RaiseSchedulerFailure(ctx context.Context, runID string, attempts int, failedSteps []string) (bool, error) {
	return c.createOnce(ctx, schedulerFailureFilter, &entities.Alert{
		Type:     entities.AlertTypeInfo,
		Category: entities.CategorySystem,
		SubKind:  entities.SubKindSchedulerFailure,
		Title:    TitleSchedulerFailure,
		Message: fmt.Sprintf("Scheduled alert checks failed after %d attempts. Failed steps: %v.",
			attempts, failedSteps),
		Priority: entities.PriorityHigh,
		Details: datatypes.JSONMap{
			"run_id":       runID,
			"attempts":     attempts,
			"failed_steps": failedSteps,
		},
	})
}

// ClearSchedulerFailure resolves the open system alert after a clean run.
func (c *Checker) ClearSchedulerFailure(ctx context.Context) (int, error) {
	open, err := c.alerts.ListUnresolved(ctx, schedulerFailureFilter)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range open {
		changed, err := c.resolve(ctx, &open[i], ReasonRecovered)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}
