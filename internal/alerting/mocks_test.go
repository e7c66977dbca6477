package alerting

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/datastore/repository"
	"github.com/hearthline/dealerdash/internal/logger"
)

func testLogger() logger.Logger {
	return logger.New(io.Discard, logger.LogLevelError)
}

// fixedNow is the reference time used across tests.
var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// failures injects errors per repository method. A hook, if set, runs before
// the method and may block.
type failures struct {
	mu    sync.Mutex
	errs  map[string][]error // consumed one per call; last one sticks
	hooks map[string]func()
}

func (f *failures) set(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string][]error)
	}
	f.errs[method] = errs
}

func (f *failures) hook(method string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hooks == nil {
		f.hooks = make(map[string]func())
	}
	f.hooks[method] = fn
}

func (f *failures) check(method string) error {
	f.mu.Lock()
	h := f.hooks[method]
	var err error
	if q := f.errs[method]; len(q) > 0 {
		err = q[0]
		if len(q) > 1 {
			f.errs[method] = q[1:]
		}
	}
	f.mu.Unlock()
	if h != nil {
		h()
	}
	return err
}

// mockOrderRepo is an in-memory OrderRepository.
type mockOrderRepo struct {
	failures
	mu     sync.Mutex
	orders map[uint]*entities.Order
	nextID uint
}

func newMockOrderRepo(orders ...entities.Order) *mockOrderRepo {
	r := &mockOrderRepo{orders: make(map[uint]*entities.Order)}
	for i := range orders {
		o := orders[i]
		if o.ID == 0 {
			r.nextID++
			o.ID = r.nextID
		} else if o.ID > r.nextID {
			r.nextID = o.ID
		}
		r.orders[o.ID] = &o
	}
	return r
}

func (r *mockOrderRepo) ListOrders(_ context.Context, filter repository.OrderFilter) ([]entities.Order, error) {
	if err := r.check("ListOrders"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Order
	for _, o := range r.orders {
		if filter.ExcludeDelivered && o.IsDelivered() {
			continue
		}
		if filter.RequireShipDate && o.EstimatedDelivery == nil {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				match = match || s == o.Status
			}
			if !match {
				continue
			}
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockOrderRepo) GetOrder(_ context.Context, id uint) (*entities.Order, error) {
	if err := r.check("GetOrder"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *mockOrderRepo) CreateOrder(_ context.Context, order *entities.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	cp := *order
	r.orders[order.ID] = &cp
	return nil
}

func (r *mockOrderRepo) mutate(id uint, fn func(o *entities.Order)) (*entities.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	fn(o)
	cp := *o
	return &cp, nil
}

func (r *mockOrderRepo) UpdateOrderStatus(_ context.Context, id uint, status string) (*entities.Order, error) {
	return r.mutate(id, func(o *entities.Order) { o.Status = status })
}

func (r *mockOrderRepo) UpdatePaymentStatus(_ context.Context, id uint, status string) (*entities.Order, error) {
	return r.mutate(id, func(o *entities.Order) { o.PaymentStatus = status })
}

func (r *mockOrderRepo) SetEstimatedDelivery(_ context.Context, id uint, at *time.Time) (*entities.Order, error) {
	return r.mutate(id, func(o *entities.Order) { o.EstimatedDelivery = at })
}

func (r *mockOrderRepo) delete(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, id)
}

// mockMaterialRepo is an in-memory MaterialRepository.
type mockMaterialRepo struct {
	failures
	mu        sync.Mutex
	materials map[uint]*entities.Material
}

func newMockMaterialRepo(materials ...entities.Material) *mockMaterialRepo {
	r := &mockMaterialRepo{materials: make(map[uint]*entities.Material)}
	for i := range materials {
		m := materials[i]
		r.materials[m.ID] = &m
	}
	return r
}

func (r *mockMaterialRepo) CreateMaterial(_ context.Context, m *entities.Material) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.materials[m.ID] = &cp
	return nil
}

func (r *mockMaterialRepo) GetMaterial(_ context.Context, id uint) (*entities.Material, error) {
	if err := r.check("GetMaterial"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.materials[id]
	if !ok {
		return nil, repository.ErrMaterialNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *mockMaterialRepo) ListMaterials(_ context.Context) ([]entities.Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.Material, 0, len(r.materials))
	for _, m := range r.materials {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockMaterialRepo) ListLowStockMaterials(ctx context.Context) ([]entities.Material, error) {
	if err := r.check("ListLowStockMaterials"); err != nil {
		return nil, err
	}
	all, _ := r.ListMaterials(ctx)
	var out []entities.Material
	for i := range all {
		if all[i].IsLowStock() {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (r *mockMaterialRepo) UpdateStock(_ context.Context, id uint, stock int) (*entities.Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.materials[id]
	if !ok {
		return nil, repository.ErrMaterialNotFound
	}
	m.CurrentStock = stock
	cp := *m
	return &cp, nil
}

// mockAlertRepo is an in-memory AlertRepository that enforces the same
// one-unresolved-alert-per-key rule as the database index.
type mockAlertRepo struct {
	failures
	mu     sync.Mutex
	alerts []*entities.Alert
	nextID uint
}

func newMockAlertRepo() *mockAlertRepo {
	return &mockAlertRepo{}
}

func matchesFilter(a *entities.Alert, f repository.AlertFilter) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Title != "" && a.Title != f.Title {
		return false
	}
	if f.OrderID > 0 && (a.RelatedOrderID == nil || *a.RelatedOrderID != f.OrderID) {
		return false
	}
	if f.MaterialID > 0 && (a.RelatedMaterialID == nil || *a.RelatedMaterialID != f.MaterialID) {
		return false
	}
	return true
}

func (r *mockAlertRepo) ListUnresolved(_ context.Context, filter repository.AlertFilter) ([]entities.Alert, error) {
	if err := r.check("ListUnresolved"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Alert
	for _, a := range r.alerts {
		if !a.Resolved && matchesFilter(a, filter) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *mockAlertRepo) CreateAlert(_ context.Context, alert *entities.Alert) error {
	if err := r.check("CreateAlert"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := alert.IdempotencyKey()
	for _, a := range r.alerts {
		if !a.Resolved && a.IdempotencyKey() == key {
			return repository.ErrAlertExists
		}
	}
	r.nextID++
	alert.ID = r.nextID
	alert.Resolved = false
	alert.ResolvedAt = nil
	alert.DedupeKey = &key
	cp := *alert
	r.alerts = append(r.alerts, &cp)
	return nil
}

func (r *mockAlertRepo) ResolveAlert(_ context.Context, id uint, at time.Time) (*entities.Alert, bool, error) {
	if err := r.check("ResolveAlert"); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID != id {
			continue
		}
		changed := !a.Resolved
		if changed {
			a.Resolved = true
			a.ResolvedAt = &at
			a.DedupeKey = nil
		}
		cp := *a
		return &cp, changed, nil
	}
	return nil, false, repository.ErrAlertNotFound
}

func (r *mockAlertRepo) GetAlert(_ context.Context, id uint) (*entities.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAlertNotFound
}

func (r *mockAlertRepo) ListAlerts(_ context.Context, filter repository.AlertListFilter) ([]entities.Alert, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Alert
	for _, a := range r.alerts {
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func (r *mockAlertRepo) DeleteResolvedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.alerts[:0]
	var n int64
	for _, a := range r.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.alerts = kept
	return n, nil
}

// all returns a snapshot of every stored alert.
func (r *mockAlertRepo) all() []entities.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, *a)
	}
	return out
}

// unresolved returns open alerts of the given type and title.
func (r *mockAlertRepo) unresolved(alertType, title string) []entities.Alert {
	out, _ := r.ListUnresolved(context.Background(), repository.AlertFilter{Type: alertType, Title: title})
	return out
}

// testEnv bundles a checker with its mock repositories.
type testEnv struct {
	orders    *mockOrderRepo
	materials *mockMaterialRepo
	alerts    *mockAlertRepo
	checker   *Checker
	now       time.Time
}

func newTestEnv(orders ...entities.Order) *testEnv {
	env := &testEnv{
		orders:    newMockOrderRepo(orders...),
		materials: newMockMaterialRepo(),
		alerts:    newMockAlertRepo(),
		now:       fixedNow,
	}
	env.checker = NewChecker(env.orders, env.materials, env.alerts,
		WithClock(func() time.Time { return env.now }),
		WithLogger(testLogger()))
	return env
}

func daysFromNow(d int) *time.Time {
	t := fixedNow.Add(time.Duration(d) * 24 * time.Hour)
	return &t
}

// openOrder returns an undelivered, unpaid order shipping in d days.
func openOrder(id uint, number string, shipInDays int) entities.Order {
	return entities.Order{
		ID:                id,
		OrderNumber:       number,
		Status:            entities.OrderStatusSentToFactory,
		PaymentStatus:     entities.PaymentStatusUnpaid,
		EstimatedDelivery: daysFromNow(shipInDays),
		UpdatedAt:         fixedNow.Add(-time.Hour),
	}
}
