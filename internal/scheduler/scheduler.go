// Package scheduler implements the job scheduler (C5): a bounded worker
// pool drawing from a single logical queue, with per-backend coalescing
// and periodic re-emission measured from each job's completion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/metrics"
	"github.com/doomsday-project/doomsday/internal/populate"
)

// Kind identifies the three job shapes the scheduler runs.
type Kind string

const (
	KindRefresh Kind = "refresh"
	KindAdHoc   Kind = "adhoc"
	KindNotify  Kind = "notify"
)

// notifyKey is the coalescing key for NotifyJob; it never collides with a
// backend's key, which always carries the "refresh:" prefix.
const notifyKey = "notify:"

// State describes where a backend (or the notifier) sits in the scheduler
// state machine.
type State string

const (
	StateIdle    State = "idle"
	StateQueued  State = "queued"
	StateRunning State = "running"
)

// Status is a point-in-time view of one backend's (or the notifier's)
// scheduler state, for GET /v1/scheduler.
type Status struct {
	Backend    string
	State      State
	LastJobID  string
	LastError  error
	LastRunAt  time.Time
}

// Job is a handle to one submission. Wait blocks until the job (or the
// coalesced job it was merged into) completes.
type Job struct {
	ID      string
	Kind    Kind
	Backend string

	key       string
	done      chan struct{}
	err       error
	queuedAt  time.Time
	startedAt time.Time
}

// Wait blocks until the job finishes and returns its result error, if any.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher runs one notification pass over the cache. It is the C6
// contract, kept decoupled from C5 so the scheduler only knows "run this".
type Dispatcher interface {
	Dispatch(ctx context.Context) error
}

// Config controls worker concurrency and the notify cadence.
type Config struct {
	Concurrency    int
	JobTimeout     time.Duration
	ShutdownGrace  time.Duration
	NotifyCron     string        // cron expression; takes precedence over NotifyInterval if set
	NotifyInterval time.Duration // constant-interval fallback
}

// Scheduler owns the job queue, the coalescing table, and the worker pool.
type Scheduler struct {
	logger     hclog.Logger
	populator  *populate.Populator
	dispatcher Dispatcher
	cache      *cache.Cache
	specs      map[string]backend.Spec
	cfg        Config

	mu      sync.Mutex
	pending map[string]*Job
	status  map[string]*Status

	queue chan *Job
	cron  *cron.Cron

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(logger hclog.Logger, c *cache.Cache, specs []backend.Spec, populator *populate.Populator, dispatcher Dispatcher, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}

	byName := make(map[string]backend.Spec, len(specs))
	status := make(map[string]*Status, len(specs)+1)
	for _, s := range specs {
		byName[s.Name] = s
		status[jobKey(KindRefresh, s.Name)] = &Status{Backend: s.Name, State: StateIdle}
	}
	status[notifyKey] = &Status{Backend: "notify", State: StateIdle}

	return &Scheduler{
		logger:     logger,
		populator:  populator,
		dispatcher: dispatcher,
		cache:      c,
		specs:      byName,
		cfg:        cfg,
		pending:    make(map[string]*Job),
		status:     status,
		queue:      make(chan *Job, len(specs)+2),
	}
}

// jobTimeout picks the per-job deadline: the configured override (5
// minutes when unset), capped at the backend's own refresh interval when
// that is smaller.
func (s *Scheduler) jobTimeout(backendName string) time.Duration {
	timeout := s.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if spec, ok := s.specs[backendName]; ok && spec.RefreshInterval > 0 && spec.RefreshInterval < timeout {
		timeout = spec.RefreshInterval
	}
	return timeout
}

// Start launches the worker pool, schedules an immediate refresh for every
// backend, and arms the notify cadence. It returns once workers are
// running; Stop must be called to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.rootCtx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	for name := range s.specs {
		s.Submit(KindRefresh, name)
	}

	s.armNotify()
}

// Stop stops accepting new jobs, cancels running jobs, and waits up to the
// configured grace period for workers to exit.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("scheduler shutdown grace period elapsed with workers still running")
	}
}

func (s *Scheduler) armNotify() {
	if s.dispatcher == nil {
		return
	}
	switch {
	case s.cfg.NotifyCron != "":
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.cfg.NotifyCron, func() { s.Submit(KindNotify, "") })
		if err != nil {
			s.logger.Error("invalid notify cron expression", "expression", s.cfg.NotifyCron, "error", err)
			return
		}
		s.cron.Start()
	case s.cfg.NotifyInterval > 0:
		s.wg.Add(1)
		go s.notifyTicker()
	}
}

func (s *Scheduler) notifyTicker() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.NotifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Submit(KindNotify, "")
		case <-s.rootCtx.Done():
			return
		}
	}
}

func jobKey(kind Kind, backendName string) string {
	if kind == KindNotify {
		return notifyKey
	}
	return "refresh:" + backendName
}

// Submit enqueues a job, coalescing with any job already queued-or-running
// for the same key. The returned Job may be a pre-existing one; callers
// should always use the returned ID, not assume their own was accepted.
func (s *Scheduler) Submit(kind Kind, backendName string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rootCtx != nil {
		select {
		case <-s.rootCtx.Done():
			return nil, fmt.Errorf("scheduler is shutting down")
		default:
		}
	}

	key := jobKey(kind, backendName)
	if existing, ok := s.pending[key]; ok {
		return existing, nil
	}

	job := &Job{
		ID:       uuid.NewString(),
		Kind:     kind,
		Backend:  backendName,
		key:      key,
		done:     make(chan struct{}),
		queuedAt: time.Now(),
	}
	s.pending[key] = job
	if st, ok := s.status[key]; ok {
		st.State = StateQueued
		st.LastJobID = job.ID
	}

	select {
	case s.queue <- job:
	default:
		// Coalescing bounds outstanding jobs per key to one, and the queue
		// is sized for every known key plus the notifier, so this should
		// never happen; drop rather than block a caller holding the lock.
		delete(s.pending, key)
		return nil, fmt.Errorf("scheduler queue full, dropping job for %q", key)
	}
	s.updateGaugesLocked()
	return job, nil
}

// updateGaugesLocked reports current queue depth on every state
// transition. Callers must hold s.mu.
func (s *Scheduler) updateGaugesLocked() {
	var pending, running int
	for _, st := range s.status {
		switch st.State {
		case StateQueued:
			pending++
		case StateRunning:
			running++
		}
	}
	metrics.Registry.SetGauge(metrics.SchedulerPending, float32(pending))
	metrics.Registry.SetGauge(metrics.SchedulerRunning, float32(running))
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			s.run(job)
		case <-s.rootCtx.Done():
			return
		}
	}
}

func (s *Scheduler) run(job *Job) {
	job.startedAt = time.Now()
	s.setRunning(job)

	timeout := s.jobTimeout(job.Backend)
	ctx, cancel := context.WithTimeout(s.rootCtx, timeout)
	defer cancel()

	var err error
	switch job.Kind {
	case KindRefresh, KindAdHoc:
		_, err = s.populator.Refresh(ctx, job.Backend)
	case KindNotify:
		if s.dispatcher != nil {
			err = s.dispatcher.Dispatch(ctx)
		}
	}
	job.err = err

	s.mu.Lock()
	delete(s.pending, job.key)
	st := s.status[job.key]
	if st != nil {
		st.State = StateIdle
		st.LastError = err
		st.LastRunAt = time.Now()
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	close(job.done)

	// A permanent error parks the backend: no further periodic refresh is
	// armed for it.
	var permanent *backend.PermanentBackendError
	if (job.Kind == KindRefresh || job.Kind == KindAdHoc) && !errors.As(err, &permanent) {
		s.scheduleNextTick(job.Backend)
	}
}

func (s *Scheduler) setRunning(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[job.key]; ok {
		st.State = StateRunning
	}
	s.updateGaugesLocked()
}

// scheduleNextTick re-arms the periodic refresh for backendName, measured
// from this job's completion rather than its start, so slow backends fall
// further behind their nominal cadence instead of piling up queued jobs.
func (s *Scheduler) scheduleNextTick(backendName string) {
	spec, ok := s.specs[backendName]
	if !ok || spec.RefreshInterval <= 0 {
		return
	}
	time.AfterFunc(spec.RefreshInterval, func() {
		select {
		case <-s.rootCtx.Done():
			return
		default:
		}
		if _, err := s.Submit(KindRefresh, backendName); err != nil {
			s.logger.Debug("skipped periodic refresh, scheduler shutting down", "backend", backendName)
		}
	})
}

// Status returns a snapshot of every backend's (and the notifier's)
// current scheduler state.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	return out
}
