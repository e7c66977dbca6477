package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/logger"
)

// notifyTimeout bounds a single notification send.
const notifyTimeout = 15 * time.Second

// Default templates. Placeholders are replaced by renderTemplate.
const (
	DefaultSubjectTemplate = "[{{priority_upper}}] {{title}}"
	DefaultBodyTemplate    = "{{message}}\n\nCategory: {{category}}\nPriority: {{priority}}\nRaised: {{created_at}}"
)

// DispatcherConfig controls which alerts are sent and how they read.
type DispatcherConfig struct {
	Recipient       string
	MinPriority     string
	SubjectTemplate string
	BodyTemplate    string
}

// NotificationDispatcher forwards newly created alerts at or above the
// minimum priority to a Notifier. It subscribes to the lifecycle event bus.
type NotificationDispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	log      logger.Logger
}

// NewNotificationDispatcher creates a dispatcher. An empty MinPriority sends
// only high priority alerts.
func NewNotificationDispatcher(notifier Notifier, cfg DispatcherConfig, log logger.Logger) *NotificationDispatcher {
	if cfg.MinPriority == "" {
		cfg.MinPriority = entities.PriorityHigh
	}
	if cfg.SubjectTemplate == "" {
		cfg.SubjectTemplate = DefaultSubjectTemplate
	}
	if cfg.BodyTemplate == "" {
		cfg.BodyTemplate = DefaultBodyTemplate
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationDispatcher{
		notifier: notifier,
		cfg:      cfg,
		log:      log.With(logger.Component("alerting.dispatcher")),
	}
}

// Handle implements EventHandler.
func (d *NotificationDispatcher) Handle(event *LifecycleEvent) {
	if d.notifier == nil || event.Kind != EventCreated {
		return
	}
	alert := &event.Alert
	if entities.PriorityRank(alert.Priority) < entities.PriorityRank(d.cfg.MinPriority) {
		return
	}

	subject := renderTemplate(d.cfg.SubjectTemplate, alert)
	body := renderTemplate(d.cfg.BodyTemplate, alert)

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if !d.notifier.Notify(ctx, d.cfg.Recipient, subject, alert.Title, body, alert.Priority) {
		d.log.Warn("alert notification not delivered",
			logger.Uint64("alert_id", uint64(alert.ID)),
			logger.String("recipient", d.cfg.Recipient))
	}
}

// renderTemplate substitutes {{placeholders}} with alert fields and details.
func renderTemplate(tmpl string, alert *entities.Alert) string {
	pairs := []string{
		"{{title}}", alert.Title,
		"{{message}}", alert.Message,
		"{{priority}}", alert.Priority,
		"{{priority_upper}}", strings.ToUpper(alert.Priority),
		"{{type}}", alert.Type,
		"{{category}}", alert.Category,
		"{{sub_kind}}", alert.SubKind,
		"{{created_at}}", alert.CreatedAt.Format(time.RFC3339),
		"{{alert_id}}", fmt.Sprint(alert.ID),
	}
	for k, v := range alert.Details {
		pairs = append(pairs, "{{"+k+"}}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
