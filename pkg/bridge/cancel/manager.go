// Package cancel implements the cooperative cancellation manager: a
// composed abort source (the caller's context plus an internally owned
// one), LIFO cleanup-callback execution bounded by a graceful deadline,
// and optional periodic probing.
//
// In idiomatic Go, a context.Context already *is* an abort source, so the
// composed abort source is realized as a child context derived from the
// caller's, with its own cancel-with-cause function layered on top:
// whichever of the two fires first is visible through [Manager.Context] /
// [context.Cause].
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
)

// ErrCancelled is the sentinel cause used when [Manager.Cancel] is called
// with no reason, or as the target for [IsCancelled]. Cancellation
// detection must always use this predicate (via errors.Is), never string
// matching on an error message.
var ErrCancelled = errors.New("cancel: operation cancelled")

// Default tuning for the periodic cancellation probe.
const (
	DefaultCheckInterval    = 100 * time.Millisecond
	DefaultGracefulTimeout  = 5 * time.Second
)

// Options configures a [Manager].
type Options struct {
	// External, when non-nil, is the caller-supplied context whose
	// cancellation also cancels the manager.
	External context.Context

	// CheckInterval is the period for periodic internal probes. Defaults to
	// 100ms.
	CheckInterval time.Duration

	// GracefulTimeout bounds total cleanup runtime. Defaults to 5s.
	GracefulTimeout time.Duration

	// CleanupOnCancel, if false, skips cleanup-callback execution entirely.
	CleanupOnCancel bool
}

// CleanupFunc is a registered cleanup action. Errors are logged and
// swallowed so later callbacks still run.
type CleanupFunc func(ctx context.Context) error

// Manager composes an external and an internal abort source.
type Manager struct {
	checkInterval   time.Duration
	gracefulTimeout time.Duration
	cleanupOnCancel bool

	mu        sync.Mutex
	ctx       context.Context
	cancelFn  context.CancelCauseFunc
	cleanups  []CleanupFunc
	ticker    *time.Ticker
	tickerDone chan struct{}
	disposed  bool
}

// New constructs a [Manager] per opts, filling in documented defaults for
// zero-value fields.
func New(opts Options) *Manager {
	external := opts.External
	if external == nil {
		external = context.Background()
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	graceful := opts.GracefulTimeout
	if graceful <= 0 {
		graceful = DefaultGracefulTimeout
	}

	ctx, cancel := context.WithCancelCause(external)
	return &Manager{
		checkInterval:   interval,
		gracefulTimeout: graceful,
		cleanupOnCancel: opts.CleanupOnCancel,
		ctx:             ctx,
		cancelFn:        cancel,
	}
}

// Context returns the composed context: done when either the external
// signal or an explicit Cancel fires.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Cancel transitions the manager to cancelled with reason. Idempotent: only
// the first call's reason is observed by [Manager.Reason].
func (m *Manager) Cancel(reason any) {
	cause := ErrCancelled
	if reason != nil {
		if s, ok := reason.(string); ok {
			cause = errors.New(s)
		} else if err, ok := reason.(error); ok {
			cause = err
		}
	}
	m.cancelFn(cause)
}

// IsCancelled reports whether the composed context has fired.
func (m *Manager) IsCancelled() bool {
	return m.Context().Err() != nil
}

// Reason returns the cancellation cause, or nil if not cancelled.
func (m *Manager) Reason() error {
	ctx := m.Context()
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// ThrowIfCancelled returns a *bridgeerr.CancellationError for the given
// phase if the manager is cancelled, else nil.
func (m *Manager) ThrowIfCancelled(phase bridgeerr.CancellationPhase) error {
	if !m.IsCancelled() {
		return nil
	}
	return bridgeerr.NewCancellationError(phase, m.reasonText(), false)
}

func (m *Manager) reasonText() string {
	if r := m.Reason(); r != nil {
		return r.Error()
	}
	return ""
}

// AddCleanupHandler registers fn to run when cleanup executes. Callbacks run
// LIFO: the most recently registered runs first.
func (m *Manager) AddCleanupHandler(fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// PerformCleanup runs registered cleanup callbacks in reverse registration
// order, each awaited in turn; an individual callback's error is logged and
// swallowed so later callbacks still run. The whole pass is bounded by
// gracefulTimeout — on overrun it returns a *bridgeerr.CancellationError with
// Code="GRACEFUL_CANCELLATION_TIMEOUT".
func (m *Manager) PerformCleanup(phase bridgeerr.CancellationPhase) error {
	m.mu.Lock()
	if !m.cleanupOnCancel {
		m.mu.Unlock()
		return nil
	}
	cleanups := make([]CleanupFunc, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	if len(cleanups) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// LIFO.
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](context.Background()); err != nil {
				slog.Warn("cancel: cleanup handler failed", "error", err)
			}
		}
	}()

	select {
	case <-done:
		return nil
	case <-time.After(m.gracefulTimeout):
		return bridgeerr.NewGracefulTimeoutError(phase, m.gracefulTimeout.Milliseconds())
	}
}

// SchedulePeriodicChecks starts a timer every CheckInterval that inspects the
// composed context; on detecting cancellation it runs cleanup and stops
// itself. Idempotent — a second call is a no-op while a timer is active.
func (m *Manager) SchedulePeriodicChecks() {
	m.mu.Lock()
	if m.ticker != nil || m.disposed {
		m.mu.Unlock()
		return
	}
	ticker := time.NewTicker(m.checkInterval)
	done := make(chan struct{})
	m.ticker = ticker
	m.tickerDone = done
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if m.IsCancelled() {
					_ = m.PerformCleanup(bridgeerr.PhaseExecution)
					m.stopTicker()
					return
				}
			}
		}
	}()
}

func (m *Manager) stopTicker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.tickerDone)
		m.ticker = nil
		m.tickerDone = nil
	}
}

// Dispose stops any running periodic-check timer and clears registered
// handlers. The manager must not be used after Dispose returns.
func (m *Manager) Dispose() {
	m.stopTicker()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = nil
	m.disposed = true
}
