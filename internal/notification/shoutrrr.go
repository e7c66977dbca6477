// Package notification delivers alert notices through shoutrrr service URLs
// (ntfy, Slack, Discord, SMTP and so on).
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/hearthline/dealerdash/internal/conf"
	"github.com/hearthline/dealerdash/internal/logger"
	"github.com/hearthline/dealerdash/internal/metrics"
)

// Delivery outcomes recorded in metrics.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeDeduped     = "deduped"
	OutcomeRateLimited = "rate_limited"
	OutcomeNoRoute     = "no_route"
)

const defaultSendTimeout = 10 * time.Second

// Sender sends a message to one or more services. *router.ServiceRouter from
// shoutrrr satisfies it.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// SenderFactory builds a Sender for a set of service URLs.
type SenderFactory func(urls ...string) (Sender, error)

func shoutrrrSender(urls ...string) (Sender, error) {
	return shoutrrr.CreateSender(urls...)
}

// Config configures a ShoutrrrNotifier.
type Config struct {
	// URLs are used for any recipient without its own entry.
	URLs             []string
	Recipients       map[string][]string
	DefaultRecipient string
	// DedupeWindow suppresses repeats of the same recipient and subject.
	// Zero disables suppression.
	DedupeWindow  time.Duration
	RatePerMinute int // zero means unlimited
	Timeout       time.Duration
}

// ConfigFromSettings maps loaded settings onto a Config.
func ConfigFromSettings(s conf.NotificationSettings) Config {
	return Config{
		URLs:             s.URLs,
		Recipients:       s.Recipients,
		DefaultRecipient: s.DefaultRecipient,
		DedupeWindow:     s.DedupeWindow.Std(),
		RatePerMinute:    s.RatePerMinute,
		Timeout:          s.Timeout.Std(),
	}
}

// ShoutrrrNotifier implements alerting.Notifier on top of shoutrrr. Senders
// are built once at construction so invalid URLs fail at startup.
type ShoutrrrNotifier struct {
	senders       map[string]Sender
	defaultSender Sender
	defaultName   string
	recent        *cache.Cache
	window        time.Duration
	limiter       *rate.Limiter
	timeout       time.Duration

	log     logger.Logger
	metrics *metrics.AlertMetrics
	factory SenderFactory
}

// Option configures a ShoutrrrNotifier.
type Option func(*ShoutrrrNotifier)

// WithSenderFactory replaces shoutrrr.CreateSender.
func WithSenderFactory(f SenderFactory) Option {
	return func(n *ShoutrrrNotifier) { n.factory = f }
}

func WithLogger(log logger.Logger) Option {
	return func(n *ShoutrrrNotifier) { n.log = log }
}

func WithMetrics(m *metrics.AlertMetrics) Option {
	return func(n *ShoutrrrNotifier) { n.metrics = m }
}

// NewShoutrrrNotifier validates cfg and builds one sender per recipient.
func NewShoutrrrNotifier(cfg Config, opts ...Option) (*ShoutrrrNotifier, error) {
	n := &ShoutrrrNotifier{
		senders:     make(map[string]Sender, len(cfg.Recipients)),
		defaultName: cfg.DefaultRecipient,
		window:      cfg.DedupeWindow,
		timeout:     cfg.Timeout,
		log:         logger.Nop(),
		factory:     shoutrrrSender,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(logger.Component("notification"))

	if len(cfg.URLs) == 0 && len(cfg.Recipients) == 0 {
		return nil, errors.New("no notification URLs configured")
	}
	if n.timeout <= 0 {
		n.timeout = defaultSendTimeout
	}

	if len(cfg.URLs) > 0 {
		s, err := n.factory(cfg.URLs...)
		if err != nil {
			return nil, fmt.Errorf("invalid default notification URLs: %w", err)
		}
		n.defaultSender = s
	}
	for name, urls := range cfg.Recipients {
		if len(urls) == 0 {
			continue
		}
		s, err := n.factory(urls...)
		if err != nil {
			return nil, fmt.Errorf("invalid notification URLs for recipient %q: %w", name, err)
		}
		n.senders[name] = s
	}

	if n.window > 0 {
		n.recent = cache.New(n.window, 2*n.window)
	}
	if cfg.RatePerMinute > 0 {
		n.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	return n, nil
}

// senderFor returns the recipient's sender, then the default recipient's,
// then the default URL set.
func (n *ShoutrrrNotifier) senderFor(recipient string) Sender {
	if s, ok := n.senders[recipient]; ok {
		return s
	}
	if s, ok := n.senders[n.defaultName]; ok {
		return s
	}
	return n.defaultSender
}

// Notify implements alerting.Notifier. It never returns an error; failures
// are logged and reported as false.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, recipient, subject, title, body, priority string) bool {
	log := n.log.With(
		logger.String("recipient", recipient),
		logger.String("subject", subject),
		logger.String("priority", priority))

	sender := n.senderFor(recipient)
	if sender == nil {
		n.metrics.Notification(OutcomeNoRoute)
		log.Warn("no notification route for recipient")
		return false
	}

	// Alerts share titles across orders, so the body is part of the identity.
	key := recipient + "\x00" + subject + "\x00" + body
	if n.recent != nil {
		if err := n.recent.Add(key, struct{}{}, n.window); err != nil {
			n.metrics.Notification(OutcomeDeduped)
			log.Debug("notification suppressed as duplicate")
			return false
		}
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			n.forget(key)
			n.metrics.Notification(OutcomeRateLimited)
			log.Warn("notification dropped by rate limit", logger.Error(err))
			return false
		}
	}

	message := body
	if subject != "" && subject != title {
		message = subject + "\n\n" + body
	}
	if err := n.send(ctx, sender, message, title); err != nil {
		n.forget(key)
		n.metrics.Notification(OutcomeFailed)
		log.Error("failed to send notification", logger.Error(err))
		return false
	}

	n.metrics.Notification(OutcomeSent)
	log.Info("notification sent")
	return true
}

// send runs the blocking shoutrrr call under the notifier timeout.
func (n *ShoutrrrNotifier) send(ctx context.Context, sender Sender, message, title string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	params := types.Params{}
	if title != "" {
		params["title"] = title
	}

	done := make(chan error, 1)
	go func() {
		done <- multierr.Combine(sender.Send(message, &params)...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notification send timed out: %w", ctx.Err())
	}
}

func (n *ShoutrrrNotifier) forget(key string) {
	if n.recent != nil {
		n.recent.Delete(key)
	}
}

// NopNotifier accepts every message and sends nothing.
type NopNotifier struct{}

// Notify implements alerting.Notifier.
func (NopNotifier) Notify(context.Context, string, string, string, string, string) bool {
	return true
}
