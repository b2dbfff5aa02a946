// Package schedule triggers the daily report from a cron expression and
// retries failed runs a fixed number of times with a fixed delay.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/jazware/engagement-report/pkg/runlock"
	"github.com/jazware/engagement-report/pkg/store"
	"github.com/jazware/engagement-report/pkg/telegram"
)

const (
	// unboundedAttempt is assumed per attempt when no timeout is set.
	unboundedAttempt = 2 * time.Hour
	lockMargin       = time.Minute
)

// ErrBusy is returned when a run is requested while another one is in progress.
var ErrBusy = errors.New("a report run is already in progress")

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "report_schedule_attempts_total",
	Help: "Total number of report attempts by trigger and result",
}, []string{"trigger", "result"})

// Job produces and delivers the report for one day.
type Job func(ctx context.Context, reportDate, executedAt time.Time) error

// Locker guards a run across replicas. Acquire returns runlock.ErrNotAcquired
// when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*runlock.Lock, error)
}

// Status is a snapshot for the admin API.
type Status struct {
	Schedule       string    `json:"schedule"`
	Location       string    `json:"location"`
	Running        bool      `json:"running"`
	NextRun        time.Time `json:"next_run"`
	LastRun        time.Time `json:"last_run,omitzero"`
	LastReportDate string    `json:"last_report_date,omitempty"`
	LastAttempts   int       `json:"last_attempts,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastSuccess    time.Time `json:"last_success,omitzero"`
}

type Scheduler struct {
	spec       string
	loc        *time.Location
	job        Job
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	locker     Locker
	logger     *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu     sync.Mutex
	busy   bool
	status Status
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRetry sets the number of additional attempts and the fixed delay between them.
func WithRetry(retries int, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.retries = max(retries, 0)
		s.retryDelay = max(delay, 0)
	}
}

// WithTimeout bounds a single attempt. Zero leaves attempts unbounded.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates the cron expression (standard five fields) and registers the job.
func New(spec string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: nil job")
	}

	s := &Scheduler{
		spec:       spec,
		loc:        time.UTC,
		job:        job,
		retries:    2,
		retryDelay: 5 * time.Minute,
		timeout:    30 * time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "schedule")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	id, err := s.cron.AddFunc(spec, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	s.entryID = id
	s.status = Status{Schedule: spec, Location: s.loc.String()}
	return s, nil
}

// Start begins firing on schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.spec, "location", s.loc.String(), "next_run", s.cron.Entry(s.entryID).Next)
}

// Stop halts the schedule, cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.busy
	st.NextRun = s.cron.Entry(s.entryID).Next
	return st
}

// ReportDate is the day before the trigger, in the scheduler's time zone.
func ReportDate(trigger time.Time, loc *time.Location) time.Time {
	t := trigger.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()-1, 0, 0, 0, 0, time.UTC)
}

func (s *Scheduler) trigger() {
	now := time.Now()
	if err := s.Run(s.ctx, "cron", ReportDate(now, s.loc), now); err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Error("scheduled report failed", "error", err)
	}
}

// RunNow starts a run for the given report date in the background, for manual
// triggers and backfills. It returns ErrBusy if a run is in progress.
func (s *Scheduler) RunNow(reportDate time.Time) error {
	if !s.claim() {
		return ErrBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if err := s.attempts(s.ctx, "manual", reportDate, time.Now()); err != nil {
			s.logger.Error("manual report failed", "error", err, "report_date", reportDate.Format(time.DateOnly))
		}
	}()
	return nil
}

// Run executes the job with retries and blocks until it succeeds, exhausts
// its attempts or ctx ends. All attempts share executedAt.
func (s *Scheduler) Run(ctx context.Context, trigger string, reportDate, executedAt time.Time) error {
	if !s.claim() {
		s.logger.Warn("skipping run, previous run still in progress", "trigger", trigger)
		return ErrBusy
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.release()
	return s.attempts(ctx, trigger, reportDate, executedAt)
}

func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Scheduler) attempts(ctx context.Context, trigger string, reportDate, executedAt time.Time) error {
	day := reportDate.Format(time.DateOnly)
	logger := s.logger.With("trigger", trigger, "report_date", day)

	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, "run:"+day, s.LockTTL())
		if errors.Is(err, runlock.ErrNotAcquired) {
			logger.Info("another replica holds the run lock, skipping")
			attemptsTotal.WithLabelValues(trigger, "locked").Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	var err error
	attempt := 0
	for {
		attempt++
		err = s.attempt(ctx, reportDate, executedAt)
		if err == nil {
			attemptsTotal.WithLabelValues(trigger, "success").Inc()
			logger.Info("report delivered", "attempt", attempt)
			break
		}
		attemptsTotal.WithLabelValues(trigger, "error").Inc()
		logger.Warn("report attempt failed", "attempt", attempt, "error", err)

		if attempt > s.retries || !Retryable(err) {
			break
		}
		if werr := wait(ctx, s.retryDelay); werr != nil {
			err = errors.Join(err, werr)
			break
		}
	}

	s.mu.Lock()
	s.status.LastRun = time.Now()
	s.status.LastReportDate = day
	s.status.LastAttempts = attempt
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastSuccess = s.status.LastRun
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("report for %s failed after %d attempt(s): %w", day, attempt, err)
	}
	return nil
}

// LockTTL covers every attempt of one run and the delays between them, so the
// run lock outlives the run it guards.
func (s *Scheduler) LockTTL() time.Duration {
	perAttempt := s.timeout
	if perAttempt <= 0 {
		perAttempt = unboundedAttempt
	}
	return time.Duration(s.retries+1)*perAttempt + time.Duration(s.retries)*s.retryDelay + lockMargin
}

func (s *Scheduler) attempt(ctx context.Context, reportDate, executedAt time.Time) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.job(ctx, reportDate, executedAt)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retryable reports whether another attempt could succeed. Rejected queries,
// rejected bot credentials or chats, and cancellation are final.
func Retryable(err error) bool {
	var qe *store.QueryError
	if errors.As(err, &qe) {
		return false
	}
	var de *telegram.DeliveryError
	if errors.As(err, &de) && !de.Transient() {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
