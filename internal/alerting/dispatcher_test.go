package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

func TestNotificationDispatcher_MinPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		minPriority string
		priority    string
		kind        string
		wantSent    bool
	}{
		{"default sends high", "", entities.PriorityHigh, EventCreated, true},
		{"default drops medium", "", entities.PriorityMedium, EventCreated, false},
		{"medium threshold sends medium", entities.PriorityMedium, entities.PriorityMedium, EventCreated, true},
		{"medium threshold drops low", entities.PriorityMedium, entities.PriorityLow, EventCreated, false},
		{"low threshold sends everything", entities.PriorityLow, entities.PriorityLow, EventCreated, true},
		{"resolved events are ignored", entities.PriorityLow, entities.PriorityHigh, EventResolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := &recordingNotifier{ok: true}
			d := NewNotificationDispatcher(n, DispatcherConfig{Recipient: "ops", MinPriority: tt.minPriority}, testLogger())
			d.Handle(&LifecycleEvent{
				Kind:  tt.kind,
				Alert: entities.Alert{ID: 1, Title: TitleOverdue, Priority: tt.priority},
			})

			if tt.wantSent {
				assert.Len(t, n.sent(), 1)
			} else {
				assert.Empty(t, n.sent())
			}
		})
	}
}

func TestNotificationDispatcher_DefaultTemplates(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{ok: false}
	d := NewNotificationDispatcher(n, DispatcherConfig{Recipient: "ops"}, nil)
	d.Handle(&LifecycleEvent{
		Kind: EventCreated,
		Alert: entities.Alert{
			ID:        3,
			Category:  entities.CategoryShippingDelay,
			Title:     TitleOverdue,
			Message:   "Order ORD-9 is 2 days overdue for shipping.",
			Priority:  entities.PriorityHigh,
			CreatedAt: fixedNow,
		},
	})

	calls := n.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "ops", calls[0].recipient)
	assert.Equal(t, "[HIGH] Order Overdue", calls[0].subject)
	assert.Equal(t, TitleOverdue, calls[0].title)
	assert.Equal(t, entities.PriorityHigh, calls[0].priority)
	assert.Contains(t, calls[0].body, "Order ORD-9 is 2 days overdue for shipping.")
	assert.Contains(t, calls[0].body, "Category: shipping_delay")
	assert.Contains(t, calls[0].body, fixedNow.Format(time.RFC3339))
}

func TestRenderTemplate_Details(t *testing.T) {
	t.Parallel()

	alert := &entities.Alert{
		ID:       12,
		Type:     entities.AlertTypeCritical,
		Title:    TitlePaymentRequired,
		Priority: entities.PriorityMedium,
		Details:  datatypes.JSONMap{"order_number": "ORD-1", "days_until_ship": 2},
	}

	got := renderTemplate("#{{alert_id}} {{type}} {{order_number}} ships in {{days_until_ship}} ({{unknown}})", alert)
	assert.Equal(t, "#12 critical ORD-1 ships in 2 ({{unknown}})", got)
}

func TestNotificationDispatcher_NilNotifier(t *testing.T) {
	t.Parallel()

	d := NewNotificationDispatcher(nil, DispatcherConfig{}, testLogger())
	assert.NotPanics(t, func() {
		d.Handle(&LifecycleEvent{Kind: EventCreated, Alert: entities.Alert{Priority: entities.PriorityHigh}})
	})
}
