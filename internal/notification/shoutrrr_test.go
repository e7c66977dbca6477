package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/dealerdash/internal/alerting"
	"github.com/hearthline/dealerdash/internal/datastore/entities"
)

type sentMessage struct {
	message string
	title   string
}

type fakeSender struct {
	mu    sync.Mutex
	urls  []string
	sent  []sentMessage
	errs  []error
	block chan struct{}
}

func (s *fakeSender) Send(message string, params *types.Params) []error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{message: message, title: (*params)["title"]})
	return s.errs
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// fakeFactory records one fakeSender per distinct first URL.
type fakeFactory struct {
	mu      sync.Mutex
	senders map[string]*fakeSender
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{senders: make(map[string]*fakeSender)}
}

func (f *fakeFactory) create(urls ...string) (Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSender{urls: urls}
	f.senders[urls[0]] = s
	return s, nil
}

func (f *fakeFactory) sender(url string) *fakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.senders[url]
}

func TestNewShoutrrrNotifier_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrNotifier(Config{})
	require.Error(t, err)

	f := newFakeFactory()
	f.err = errors.New("unknown service")
	_, err = NewShoutrrrNotifier(Config{URLs: []string{"bogus://x"}}, WithSenderFactory(f.create))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid default notification URLs")

	_, err = NewShoutrrrNotifier(Config{Recipients: map[string][]string{"ops": {"bogus://x"}}}, WithSenderFactory(f.create))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `recipient "ops"`)
}

func TestShoutrrrNotifier_Routing(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs: []string{"ntfy://default/topic"},
		Recipients: map[string][]string{
			"admin": {"ntfy://admin/topic"},
			"sales": {"slack://sales"},
		},
		DefaultRecipient: "admin",
	}, WithSenderFactory(f.create))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, n.Notify(ctx, "sales", "[HIGH] Order Overdue", "Order Overdue", "late", "high"))
	assert.True(t, n.Notify(ctx, "unknown", "[HIGH] Low Stock Alert", "Low Stock Alert", "low", "high"))

	require.Len(t, f.sender("slack://sales").messages(), 1)
	admin := f.sender("ntfy://admin/topic").messages()
	require.Len(t, admin, 1)
	assert.Equal(t, "Low Stock Alert", admin[0].title)
	assert.Equal(t, "[HIGH] Low Stock Alert\n\nlow", admin[0].message)
	assert.Empty(t, f.sender("ntfy://default/topic").messages())
}

func TestShoutrrrNotifier_FallsBackToDefaultURLs(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{URLs: []string{"ntfy://default/topic"}}, WithSenderFactory(f.create))
	require.NoError(t, err)

	assert.True(t, n.Notify(context.Background(), "anyone", "Title", "Title", "body", "high"))
	msgs := f.sender("ntfy://default/topic").messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "body", msgs[0].message)
}

func TestShoutrrrNotifier_NoRoute(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		Recipients: map[string][]string{"sales": {"slack://sales"}},
	}, WithSenderFactory(f.create))
	require.NoError(t, err)

	assert.False(t, n.Notify(context.Background(), "ops", "s", "t", "b", "high"))
}

func TestShoutrrrNotifier_Dedupe(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs:         []string{"ntfy://default/topic"},
		DedupeWindow: time.Hour,
	}, WithSenderFactory(f.create))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, n.Notify(ctx, "ops", "[HIGH] Order Overdue", "Order Overdue", "ORD-1", "high"))
	assert.False(t, n.Notify(ctx, "ops", "[HIGH] Order Overdue", "Order Overdue", "ORD-1", "high"))
	// Same title, different order.
	assert.True(t, n.Notify(ctx, "ops", "[HIGH] Order Overdue", "Order Overdue", "ORD-2", "high"))
	assert.True(t, n.Notify(ctx, "ops", "[HIGH] Payment Required", "Payment Required", "ORD-1", "high"))
	assert.True(t, n.Notify(ctx, "sales", "[HIGH] Order Overdue", "Order Overdue", "ORD-1", "high"))

	assert.Len(t, f.sender("ntfy://default/topic").messages(), 4)
}

func TestShoutrrrNotifier_DistinctAlertsSameTitle(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs:         []string{"ntfy://default/topic"},
		DedupeWindow: time.Hour,
	}, WithSenderFactory(f.create))
	require.NoError(t, err)

	d := alerting.NewNotificationDispatcher(n, alerting.DispatcherConfig{Recipient: "ops"}, nil)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	overdue := func(id uint, number string) *alerting.LifecycleEvent {
		return &alerting.LifecycleEvent{
			Kind: alerting.EventCreated,
			Alert: entities.Alert{
				ID:        id,
				Type:      entities.AlertTypeDelay,
				Category:  entities.CategoryShippingDelay,
				Title:     "Order Overdue",
				Message:   "Order " + number + " is 2 days overdue",
				Priority:  entities.PriorityHigh,
				CreatedAt: created,
			},
		}
	}

	d.Handle(overdue(1, "ORD-1"))
	d.Handle(overdue(2, "ORD-2"))
	msgs := f.sender("ntfy://default/topic").messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].message, "ORD-1")
	assert.Contains(t, msgs[1].message, "ORD-2")

	// Re-delivery of the same alert inside the window is suppressed.
	d.Handle(overdue(1, "ORD-1"))
	assert.Len(t, f.sender("ntfy://default/topic").messages(), 2)
}

func TestShoutrrrNotifier_FailureReleasesDedupe(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs:         []string{"ntfy://default/topic"},
		DedupeWindow: time.Hour,
	}, WithSenderFactory(f.create))
	require.NoError(t, err)
	ctx := context.Background()

	s := f.sender("ntfy://default/topic")
	s.errs = []error{errors.New("503 from server"), nil}
	assert.False(t, n.Notify(ctx, "ops", "subj", "subj", "body", "high"))

	s.mu.Lock()
	s.errs = nil
	s.mu.Unlock()
	assert.True(t, n.Notify(ctx, "ops", "subj", "subj", "body", "high"))
	assert.Len(t, s.messages(), 2)
}

func TestShoutrrrNotifier_Timeout(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs:    []string{"ntfy://default/topic"},
		Timeout: 20 * time.Millisecond,
	}, WithSenderFactory(f.create))
	require.NoError(t, err)

	s := f.sender("ntfy://default/topic")
	s.block = make(chan struct{})
	defer close(s.block)

	assert.False(t, n.Notify(context.Background(), "ops", "s", "t", "b", "high"))
}

func TestShoutrrrNotifier_RateLimit(t *testing.T) {
	t.Parallel()

	f := newFakeFactory()
	n, err := NewShoutrrrNotifier(Config{
		URLs:          []string{"ntfy://default/topic"},
		RatePerMinute: 1,
	}, WithSenderFactory(f.create))
	require.NoError(t, err)

	assert.True(t, n.Notify(context.Background(), "ops", "first", "first", "b", "high"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, n.Notify(ctx, "ops", "second", "second", "b", "high"))
	assert.Len(t, f.sender("ntfy://default/topic").messages(), 1)
}

func TestNopNotifier(t *testing.T) {
	t.Parallel()
	assert.True(t, NopNotifier{}.Notify(context.Background(), "a", "b", "c", "d", "e"))
}
