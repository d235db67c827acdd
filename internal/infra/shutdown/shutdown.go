package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ExitCode is the status used when shutdown is forced.
const ExitCode = 130

// Handler handles graceful shutdown.
type Handler struct {
	grace time.Duration
	exit  func(code int)

	mu    sync.Mutex
	hooks []func(context.Context) error
}

// NewHandler creates a new shutdown handler.
func NewHandler(grace time.Duration) *Handler {
	return &Handler{
		grace: grace,
		exit:  os.Exit,
	}
}

// OnShutdown registers a hook run on forced shutdown.
// Hooks are called in reverse order of registration.
func (h *Handler) OnShutdown(hook func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// Notify returns a context canceled by the first SIGINT or SIGTERM.
// stop releases the signal handler.
func (h *Handler) Notify(parent context.Context) (ctx context.Context, stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go h.watch(sigCh, cancel, done)

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}
}

// watch cancels on the first signal and forces exit on the second one or
// when the grace period runs out.
func (h *Handler) watch(sigCh <-chan os.Signal, cancel context.CancelFunc, done <-chan struct{}) {
	select {
	case <-sigCh:
		cancel()
	case <-done:
		return
	}

	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-sigCh:
	case <-timer.C:
	case <-done:
		return
	}

	ctx, cancelHooks := context.WithTimeout(context.Background(), h.grace)
	defer cancelHooks()
	h.runHooks(ctx)
	h.exit(ExitCode)
}

// runHooks executes hooks in reverse order and returns the last error.
func (h *Handler) runHooks(ctx context.Context) error {
	h.mu.Lock()
	hooks := make([]func(context.Context) error, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var lastErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
