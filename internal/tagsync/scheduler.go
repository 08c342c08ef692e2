package tagsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the scheduler waits after the last local
// change event before triggering a reconciliation.
const DefaultDebounce = 10 * time.Second

// Runner is the unit of work the scheduler serializes. *Engine implements
// it.
type Runner interface {
	InitialSync(ctx context.Context, mode InitialMode) (InitialResult, error)
	Reconcile(ctx context.Context) (ReconcileResult, error)
}

type schedulerState int

const (
	stateIdle schedulerState = iota
	stateRunning
)

// Scheduler is the single entry point for all sync triggers. It enforces
// single-flight execution with an explicit Idle/Running state machine and
// one queued flag:
//
//   - manual requests while Running fail fast with ErrSyncInProgress and
//     are never queued;
//   - timer and change-driven requests while Running collapse into the
//     queued flag and run exactly once after the active run completes;
//   - local change events are debounced, and events raised by the
//     reconciler's own corrective writes are suppressed for the duration
//     of a run.
type Scheduler struct {
	runner  Runner
	log     zerolog.Logger
	baseCtx context.Context

	debounce time.Duration

	mu            sync.Mutex
	state         schedulerState
	queued        bool
	suppress      bool
	debounceTimer *time.Timer
	closed        bool
}

// SchedulerOptions configures a Scheduler. Context bounds background runs
// triggered by timers and change events; it defaults to context.Background.
type SchedulerOptions struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	Context  context.Context
}

func NewScheduler(runner Runner, opts SchedulerOptions) *Scheduler {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		runner:   runner,
		log:      opts.Logger,
		baseCtx:  baseCtx,
		debounce: debounce,
	}
}

// RunInitialSync executes an initial sync on behalf of a manual request.
// It fails fast with ErrSyncInProgress while another run is active.
func (s *Scheduler) RunInitialSync(ctx context.Context, mode InitialMode) (InitialResult, error) {
	if !s.tryAcquire() {
		return InitialResult{}, ErrSyncInProgress
	}
	result, err := s.runner.InitialSync(ctx, mode)
	s.finish()
	return result, err
}

// RunReconciliation executes one incremental reconciliation on behalf of a
// manual request. It fails fast with ErrSyncInProgress while another run is
// active.
func (s *Scheduler) RunReconciliation(ctx context.Context) (ReconcileResult, error) {
	if !s.tryAcquire() {
		return ReconcileResult{}, ErrSyncInProgress
	}
	result, err := s.runner.Reconcile(ctx)
	s.finish()
	return result, err
}

// RequestSync asks for a bidirectional reconciliation on behalf of a timer
// or a debounced change trigger. It never blocks and never fails: while a
// run is active the request collapses into the queued flag.
func (s *Scheduler) RequestSync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == stateRunning {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.state = stateRunning
	s.suppress = true
	s.mu.Unlock()
	go s.runQueued()
}

// NotifyLocalChange feeds one local-store change event into the debounce
// path. Each event resets the delay timer; only after the delay elapses
// with no further events does the trigger reach the state machine. Events
// observed while a run is active are the reconciler's own corrective
// writes and are dropped.
func (s *Scheduler) NotifyLocalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.suppress {
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.RequestSync)
}

// Close stops the debounce timer and rejects further requests. It does not
// cancel an in-flight run; runs are not preemptible.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == stateRunning {
		return false
	}
	s.state = stateRunning
	s.suppress = true
	return true
}

// finish completes a run: if a bidirectional request was queued meanwhile
// the scheduler stays Running and re-enters immediately, otherwise it
// returns to Idle.
func (s *Scheduler) finish() {
	s.mu.Lock()
	if s.queued && !s.closed {
		s.queued = false
		s.mu.Unlock()
		go s.runQueued()
		return
	}
	s.state = stateIdle
	s.suppress = false
	s.mu.Unlock()
}

func (s *Scheduler) runQueued() {
	if _, err := s.runner.Reconcile(s.baseCtx); err != nil {
		s.log.Error().Err(err).Msg("queued reconciliation failed")
	}
	s.finish()
}
