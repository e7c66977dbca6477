package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/logger"
	"github.com/hearthline/dealerdash/internal/metrics"
)

// State is the scheduler's position in its run cycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateRetryWait State = "retry_wait"
)

const (
	// DefaultLockKey is the distributed lock key for the alert pipeline.
	DefaultLockKey = "dealerdash:alert-checks"
	// failureReportTimeout bounds the writes made after a run is exhausted.
	failureReportTimeout = 10 * time.Second
)

// Locker provides a cross-instance mutual exclusion lock. TryLock returns
// acquired=false without error when another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Notifier delivers an out-of-band message. It reports whether the message
// was sent; failures never affect alert state.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, title, body, priority string) bool
}

// SchedulerConfig controls what a run does and when.
type SchedulerConfig struct {
	Spec            string // cron spec, e.g. "@every 5m"
	IncludeLowStock bool
	Retry           RetryPolicy
	LockKey         string
	LockTTL         time.Duration
	RetentionDays   int
	Recipient       string // receives exhaustion notices
}

// StepResult summarises one pipeline step across all attempts of a run.
type StepResult struct {
	Name           string `json:"name"`
	AlertsCreated  int    `json:"alerts_created"`
	AlertsResolved int    `json:"alerts_resolved"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

// RunReport describes one invocation of RunAlertChecks.
type RunReport struct {
	RunID          string       `json:"run_id"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	Attempts       int          `json:"attempts"`
	AlertsCreated  int          `json:"alerts_created"`
	AlertsResolved int          `json:"alerts_resolved"`
	Steps          []StepResult `json:"steps,omitempty"`
	Skipped        bool         `json:"skipped,omitempty"`
	SkipReason     string       `json:"skip_reason,omitempty"`
	Exhausted      bool         `json:"exhausted,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Succeeded reports whether every step completed.
func (r RunReport) Succeeded() bool {
	return !r.Skipped && r.Error == ""
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	State       State      `json:"state"`
	Schedule    string     `json:"schedule"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *RunReport `json:"last_run,omitempty"`
	SkippedRuns int64      `json:"skipped_runs"`
}

// Scheduler runs the alert pipeline on a cron schedule with bounded retry.
// Each run executes the rule steps before the resolution steps; a failing
// step does not stop later steps, and only failed steps are retried.
type Scheduler struct {
	checker *Checker
	cfg     SchedulerConfig

	locker      Locker
	notifier    Notifier
	bus         *EventBus
	metrics     *metrics.AlertMetrics
	log         logger.Logger
	now         func() time.Time
	newTimer    func() backoff.Timer
	onExhausted func(RunReport, error)

	running atomic.Bool
	skipped atomic.Int64

	mu      sync.RWMutex
	state   State
	last    *RunReport
	cron    *cron.Cron
	entryID cron.EntryID
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithLocker(l Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = l }
}

func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

func WithSchedulerEventBus(bus *EventBus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

func WithSchedulerMetrics(m *metrics.AlertMetrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithSchedulerLogger(log logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = log }
}

// WithSchedulerClock overrides the time source used for reports.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithTimerFactory replaces the timer used to wait between attempts.
func WithTimerFactory(f func() backoff.Timer) SchedulerOption {
	return func(s *Scheduler) { s.newTimer = f }
}

// WithExhaustedHook is called after a run fails every attempt.
func WithExhaustedHook(fn func(RunReport, error)) SchedulerOption {
	return func(s *Scheduler) { s.onExhausted = fn }
}

// NewScheduler creates a Scheduler. Zero retry settings fall back to
// DefaultRetryPolicy.
func NewScheduler(checker *Checker, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}

	s := &Scheduler{
		checker:  checker,
		cfg:      cfg,
		log:      logger.Nop(),
		now:      time.Now,
		newTimer: newRealTimer,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("alerting.scheduler"))
	return s
}

// Start registers the pipeline with cron and starts ticking. ctx is passed to
// every run; cancel it before Stop to abort pending retries.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := c.AddFunc(s.cfg.Spec, func() { s.RunAlertChecks(ctx) })
	if err != nil {
		return fmt.Errorf("invalid alert schedule %q: %w", s.cfg.Spec, err)
	}
	s.cron = c
	s.entryID = id
	c.Start()

	s.log.Info("alert scheduler started", logger.String("schedule", s.cfg.Spec))
	return nil
}

// Stop stops the cron ticker and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("alert scheduler stopped")
}

// Status returns the current state, next tick and last run.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SchedulerStatus{
		State:       s.state,
		Schedule:    s.cfg.Spec,
		SkippedRuns: s.skipped.Load(),
	}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

type step struct {
	name string
	run  func(ctx context.Context) (created, resolved int, err error)
}

func ruleStep(name string, fn func(context.Context) (RuleResult, error)) step {
	return step{name: name, run: func(ctx context.Context) (int, int, error) {
		r, err := fn(ctx)
		return r.AlertsCreated, 0, err
	}}
}

func resolutionStep(name string, fn func(context.Context) (ResolutionResult, error)) step {
	return step{name: name, run: func(ctx context.Context) (int, int, error) {
		r, err := fn(ctx)
		return 0, r.AlertsResolved, err
	}}
}

// pipeline returns the steps of one run in execution order.
func (s *Scheduler) pipeline() []step {
	c := s.checker
	steps := []step{
		ruleStep(StepPaymentOverdue, c.CheckPaymentOverdueAlerts),
		resolutionStep(StepPaymentResolve, c.ResolveCompletedPaymentAlerts),
		ruleStep(StepOrderOverdue, c.CheckOverdueOrdersAlerts),
		ruleStep(StepOrderStuck, c.CheckStuckOrdersAlerts),
		resolutionStep(StepOverdueResolve, c.ResolveCompletedOverdueAlerts),
	}
	if s.cfg.IncludeLowStock {
		steps = append(steps,
			ruleStep(StepLowStock, c.CheckLowStockAlerts),
			resolutionStep(StepRestockResolve, c.ResolveRestockedAlerts))
	}
	return steps
}

// runStep executes one step, turning a panic into an error.
func runStep(ctx context.Context, st step) (created, resolved int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", st.name, r)
		}
	}()
	return st.run(ctx)
}

// RunAlertChecks runs the pipeline once, retrying failed steps per the retry
// policy. It never returns an error or panics; the outcome is in the report.
// A call made while another run is in progress is skipped.
func (s *Scheduler) RunAlertChecks(ctx context.Context) (report RunReport) {
	report = RunReport{RunID: uuid.NewString(), StartedAt: s.now()}
	log := s.log.With(logger.String("run_id", report.RunID))

	if !s.running.CompareAndSwap(false, true) {
		return s.skip(report, "previous run still in progress", log)
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			// The unique index still prevents duplicates without the lock.
			log.Warn("alert lock unavailable, running unlocked", logger.Error(err))
		case !acquired:
			return s.skip(report, "another instance holds the alert lock", log)
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release alert lock", logger.Error(err))
				}
			}()
		}
	}

	s.setState(StateRunning)
	defer func() {
		if r := recover(); r != nil {
			report.Error = fmt.Sprintf("panic: %v", r)
			log.Error("alert run panicked", logger.String("panic", report.Error))
		}
		report.FinishedAt = s.now()
		s.mu.Lock()
		s.state = StateIdle
		last := report
		s.last = &last
		s.mu.Unlock()
	}()

	log.Debug("alert checks starting")
	err := s.execute(ctx, &report, log)
	report.FinishedAt = s.now()
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	if err == nil {
		outcome := metrics.OutcomeSuccess
		if report.Attempts > 1 {
			outcome = metrics.OutcomeRecovered
		}
		s.metrics.RunFinished(outcome, elapsed, report.FinishedAt)
		log.Info("alert checks completed",
			logger.Int("attempts", report.Attempts),
			logger.Int("alerts_created", report.AlertsCreated),
			logger.Int("alerts_resolved", report.AlertsResolved),
			logger.Duration("elapsed", elapsed))
		s.afterSuccess(ctx, log)
		return report
	}

	report.Error = err.Error()
	if ctx.Err() != nil {
		s.metrics.RunFinished(metrics.OutcomeCancelled, elapsed, report.FinishedAt)
		log.Warn("alert checks cancelled", logger.Int("attempts", report.Attempts), logger.Error(err))
		return report
	}
	report.Exhausted = true
	s.metrics.RunFinished(metrics.OutcomeExhausted, elapsed, report.FinishedAt)
	log.Error("alert checks failed, retries exhausted",
		logger.Int("attempts", report.Attempts),
		logger.Error(err))
	s.reportExhausted(ctx, report, err, log)
	return report
}

func (s *Scheduler) skip(report RunReport, reason string, log logger.Logger) RunReport {
	report.Skipped = true
	report.SkipReason = reason
	report.FinishedAt = report.StartedAt
	s.skipped.Add(1)
	s.metrics.RunFinished(metrics.OutcomeSkipped, 0, report.StartedAt)
	log.Warn("alert checks skipped", logger.String("reason", reason))
	return report
}

// execute runs the retry loop, filling report with per-step results.
func (s *Scheduler) execute(ctx context.Context, report *RunReport, log logger.Logger) error {
	pending := s.pipeline()
	results := make(map[string]*StepResult, len(pending))
	order := make([]string, 0, len(pending))
	for _, st := range pending {
		results[st.name] = &StepResult{Name: st.name}
		order = append(order, st.name)
	}

	attempt := 0
	op := func() error {
		attempt++
		s.setState(StateRunning)

		var errs error
		var failed []step
		for _, st := range pending {
			res := results[st.name]
			res.Attempts++
			created, resolved, err := runStep(ctx, st)
			res.AlertsCreated += created
			res.AlertsResolved += resolved
			if err != nil {
				res.Error = err.Error()
				s.metrics.StepFailed(st.name)
				log.Warn("alert check step failed",
					logger.String("step", st.name),
					logger.Int("attempt", attempt),
					logger.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", st.name, err))
				failed = append(failed, st)
				continue
			}
			res.Error = ""
		}
		pending = failed
		return errs
	}
	notify := func(err error, delay time.Duration) {
		s.setState(StateRetryWait)
		s.metrics.Retry()
		log.Warn("alert checks attempt failed, retrying",
			logger.Int("attempt", attempt),
			logger.Int("failed_steps", len(pending)),
			logger.Duration("delay", delay),
			logger.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(op, s.cfg.Retry.backOff(ctx), notify, s.newTimer())

	report.Attempts = attempt
	for _, name := range order {
		res := results[name]
		report.AlertsCreated += res.AlertsCreated
		report.AlertsResolved += res.AlertsResolved
		report.Steps = append(report.Steps, *res)
	}
	return err
}

func (s *Scheduler) afterSuccess(ctx context.Context, log logger.Logger) {
	if n, err := s.checker.ClearSchedulerFailure(ctx); err != nil {
		log.Warn("failed to clear scheduler failure alert", logger.Error(err))
	} else if n > 0 {
		log.Info("alert checks recovered")
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := s.checker.Now().AddDate(0, 0, -s.cfg.RetentionDays)
		if _, err := s.checker.PurgeResolved(ctx, cutoff); err != nil {
			log.Warn("resolved alert cleanup failed", logger.Error(err))
		}
	}
}

// reportExhausted surfaces an exhausted run through every available channel.
// None of them may fail the run further.
func (s *Scheduler) reportExhausted(ctx context.Context, report RunReport, cause error, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureReportTimeout)
	defer cancel()

	var failed []string
	for _, st := range report.Steps {
		if st.Error != "" {
			failed = append(failed, st.Name)
		}
	}

	if _, err := s.checker.RaiseSchedulerFailure(ctx, report.RunID, report.Attempts, failed); err != nil {
		log.Warn("failed to record scheduler failure alert", logger.Error(err))
	}

	s.bus.Publish(&LifecycleEvent{
		Kind:      EventCycleFailed,
		Reason:    cause.Error(),
		RunID:     report.RunID,
		Timestamp: report.FinishedAt,
		Alert: entities.Alert{
			Type:     entities.AlertTypeInfo,
			Category: entities.CategorySystem,
			SubKind:  entities.SubKindSchedulerFailure,
			Title:    TitleSchedulerFailure,
			Priority: entities.PriorityHigh,
		},
	})

	if s.notifier != nil {
		body := fmt.Sprintf("Run %s failed after %d attempts. Failed steps: %v.\n\nLast error: %v",
			report.RunID, report.Attempts, failed, cause)
		if !s.notifier.Notify(ctx, s.cfg.Recipient, "[HIGH] "+TitleSchedulerFailure, TitleSchedulerFailure, body, entities.PriorityHigh) {
			log.Warn("scheduler failure notification not delivered")
		}
	}

	if s.onExhausted != nil {
		s.onExhausted(report, cause)
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
