// Package streamctl implements the stream cancellation handler: a state
// machine wrapping a provider's lazy delta sequence, probing cancellation
// between chunks, accumulating a text buffer, and bounding
// cancellation-to-observation latency.
package streamctl

import (
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/cancel"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// State is one of the four stream states.
type State int

const (
	StateActive State = iota
	StatePaused
	StateCancelled
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Handler wraps an upstream delta sequence with cancellation control. It
// borrows a [*cancel.Manager] for the duration of one wrap; it does not own
// the manager's lifecycle.
type Handler struct {
	mgr           *cancel.Manager
	checkInterval time.Duration

	mu       sync.Mutex
	state    State
	buf      strings.Builder
	resumeCh chan struct{}

	probeStop   chan struct{}
	probeOnce   sync.Once
	probeActive bool
}

// New constructs a [Handler] bound to mgr. checkInterval defaults to
// [cancel.DefaultCheckInterval] when zero.
func New(mgr *cancel.Manager, checkInterval time.Duration) *Handler {
	if checkInterval <= 0 {
		checkInterval = cancel.DefaultCheckInterval
	}
	return &Handler{
		mgr:           mgr,
		checkInterval: checkInterval,
		state:         StateActive,
	}
}

// State returns the current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Buffer returns the accumulated text seen so far. Preserved across
// cancellation.
func (h *Handler) Buffer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// ClearBuffer empties the accumulated text.
func (h *Handler) ClearBuffer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
}

// StartStreamMonitoring resets state to active and clears the buffer,
// regardless of any previous use of this handler.
func (h *Handler) StartStreamMonitoring() {
	h.mu.Lock()
	h.state = StateActive
	h.buf.Reset()
	h.mu.Unlock()
	h.stopProbe()
	h.probeOnce = sync.Once{}
}

// Pause transitions active -> paused. No-op on terminal states or when
// already paused.
func (h *Handler) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateActive {
		h.state = StatePaused
	}
}

// Resume transitions paused -> active. No-op otherwise.
func (h *Handler) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StatePaused {
		h.state = StateActive
		if h.resumeCh != nil {
			close(h.resumeCh)
			h.resumeCh = nil
		}
	}
}

// Complete transitions active -> completed. No-op from any other state
// (including cancelled).
func (h *Handler) Complete() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateActive {
		h.state = StateCompleted
	}
}

// Cancel transitions to cancelled from any non-terminal state. No-op if
// already terminal.
func (h *Handler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateCancelled || h.state == StateCompleted {
		return
	}
	h.state = StateCancelled
	if h.resumeCh != nil {
		close(h.resumeCh)
		h.resumeCh = nil
	}
}

// startProbe launches a ticker that periodically re-checks the borrowed
// manager's cancellation state, guaranteeing the cancellation-to-observation
// latency bound even if the upstream sequence is slow to produce its next
// item. It is independent of the per-chunk check in Wrap.
func (h *Handler) startProbe() {
	h.mu.Lock()
	h.probeActive = true
	h.mu.Unlock()

	stop := h.probeStop
	go func() {
		ticker := time.NewTicker(h.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if h.mgr.IsCancelled() {
					h.Cancel()
					return
				}
			}
		}
	}()
}

// ProbeActive reports whether the periodic cancellation probe is currently
// running. Used to verify the invariant that a handler reaching cancelled
// never leaves its probe alive.
func (h *Handler) ProbeActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probeActive
}

func (h *Handler) stopProbe() {
	h.probeOnce.Do(func() {
		if h.probeStop != nil {
			close(h.probeStop)
		}
	})
	h.mu.Lock()
	h.probeActive = false
	h.mu.Unlock()
}

// waitWhilePaused blocks the calling goroutine while the handler is paused,
// returning early if cancelled.
func (h *Handler) waitWhilePaused() {
	for {
		h.mu.Lock()
		if h.state != StatePaused {
			h.mu.Unlock()
			return
		}
		ch := h.resumeCh
		if ch == nil {
			ch = make(chan struct{})
			h.resumeCh = ch
		}
		h.mu.Unlock()
		<-ch
	}
}

// Wrap adapts an upstream sequence of (delta, error) pairs into a new
// sequence honoring the cancellation contract:
//
//  1. before yielding each delta, cancellation is probed; on detection the
//     handler transitions to cancelled, stops its probe, and the consumer
//     observes a *bridgeerr.CancellationError with Phase=streaming.
//  2. otherwise the delta's text content is appended to the buffer and
//     forwarded.
//  3. a delta marked Finished transitions the handler to completed.
//  4. upstream errors are forwarded unchanged, transitioning to cancelled
//     first if the error is (or wraps) cancel.ErrCancelled.
//  5. on any exit path the probe is stopped.
func (h *Handler) Wrap(upstream iter.Seq2[types.StreamDelta, error]) iter.Seq2[types.StreamDelta, error] {
	h.probeStop = make(chan struct{})
	h.probeOnce = sync.Once{}
	h.startProbe()

	return func(yield func(types.StreamDelta, error) bool) {
		defer h.stopProbe()

		for delta, err := range upstream {
			h.waitWhilePaused()

			if h.State() == StateCancelled {
				yield(types.StreamDelta{}, h.cancelledErr())
				return
			}

			if err != nil {
				if isCancellation(err) {
					h.Cancel()
				}
				yield(types.StreamDelta{}, err)
				return
			}

			if reason := h.mgr.ThrowIfCancelled(bridgeerr.PhaseStreaming); reason != nil {
				h.Cancel()
				yield(types.StreamDelta{}, reason)
				return
			}

			h.appendText(delta)

			if !yield(delta, nil) {
				return
			}

			if delta.Finished {
				h.Complete()
				return
			}
		}
	}
}

func (h *Handler) appendText(delta types.StreamDelta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, part := range delta.Delta.Content {
		if t, ok := part.(types.TextPart); ok {
			h.buf.WriteString(t.Text)
		}
	}
}

func (h *Handler) cancelledErr() error {
	reason := h.mgr.Reason()
	var reasonText any
	if reason != nil {
		reasonText = reason.Error()
	}
	return bridgeerr.NewCancellationError(bridgeerr.PhaseStreaming, reasonText, true)
}

// isCancellation reports whether err represents a typed cancellation, via
// errors.Is against the sentinel rather than string-matching on "cancel".
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	var ce *bridgeerr.CancellationError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, cancel.ErrCancelled)
}
