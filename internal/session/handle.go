package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CheckFunc performs an authentication check.
type CheckFunc func(ctx context.Context) error

// Handle is a stable cell holding the current CheckFunc. Timers, listeners and
// the gateway keep the Handle and read the function only when they fire, so
// replacing the function never leaves a stale closure behind.
type Handle struct {
	fn      atomic.Pointer[CheckFunc]
	pending sync.WaitGroup
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// NewHandle creates an empty handle. Invoking it before Set is a no-op.
func NewHandle(logger *logrus.Logger) *Handle {
	return &Handle{logger: logger}
}

// Set replaces the function invoked by the handle.
func (h *Handle) Set(fn CheckFunc) {
	if fn == nil {
		h.fn.Store(nil)
		return
	}
	h.fn.Store(&fn)
}

// Invoke runs the current function synchronously.
func (h *Handle) Invoke(ctx context.Context) error {
	fn := h.fn.Load()
	if fn == nil {
		return nil
	}
	return (*fn)(ctx)
}

// InvokeAsync runs the current function on its own goroutine. The caller's
// cancellation is not inherited; values such as the correlation ID are.
func (h *Handle) InvokeAsync(ctx context.Context) {
	detached := context.WithoutCancel(ctx)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Debug("Handle closed, dropping background authentication check")
		return
	}
	h.pending.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.pending.Done()
		if err := h.Invoke(detached); err != nil {
			h.logger.WithError(err).Warn("Background authentication check failed")
		}
	}()
}

// Wait blocks until every InvokeAsync started so far has returned. It must
// not race with InvokeAsync; use Close during shutdown.
func (h *Handle) Wait() {
	h.pending.Wait()
}

// Close rejects further InvokeAsync calls and waits for the running ones.
// Synchronous Invoke keeps working.
func (h *Handle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.pending.Wait()
}
