package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestHandler_RunHooks(t *testing.T) {
	h := NewHandler(time.Second)

	var order []int
	boom := errors.New("boom")
	h.OnShutdown(func(context.Context) error { order = append(order, 1); return nil })
	h.OnShutdown(func(context.Context) error { order = append(order, 2); return boom })
	h.OnShutdown(func(context.Context) error { order = append(order, 3); return nil })

	if err := h.runHooks(context.Background()); !errors.Is(err, boom) {
		t.Errorf("runHooks() error = %v, want %v", err, boom)
	}
	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

// watchForTest runs watch with a fake signal channel and a recorded exit.
func watchForTest(h *Handler) (sigCh chan os.Signal, ctx context.Context, exited chan int, done chan struct{}) {
	sigCh = make(chan os.Signal, 2)
	exited = make(chan int, 1)
	done = make(chan struct{})
	h.exit = func(code int) { exited <- code }

	ctx, cancel := context.WithCancel(context.Background())
	go h.watch(sigCh, cancel, done)
	return sigCh, ctx, exited, done
}

func TestHandler_FirstSignalCancels(t *testing.T) {
	h := NewHandler(time.Hour)
	sigCh, ctx, exited, done := watchForTest(h)
	defer close(done)

	sigCh <- syscall.SIGINT
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after first signal")
	}

	select {
	case code := <-exited:
		t.Fatalf("exited with %d after a single signal", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandler_SecondSignalForcesExit(t *testing.T) {
	h := NewHandler(time.Hour)
	var mu sync.Mutex
	ran := false
	h.OnShutdown(func(context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})
	sigCh, _, exited, _ := watchForTest(h)

	sigCh <- syscall.SIGTERM
	sigCh <- syscall.SIGTERM

	select {
	case code := <-exited:
		if code != ExitCode {
			t.Errorf("exit code = %d, want %d", code, ExitCode)
		}
	case <-time.After(time.Second):
		t.Fatal("second signal did not force exit")
	}
	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Error("hooks should run before forced exit")
	}
}

func TestHandler_GraceExpires(t *testing.T) {
	h := NewHandler(20 * time.Millisecond)
	sigCh, _, exited, _ := watchForTest(h)

	sigCh <- syscall.SIGINT
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("grace period did not force exit")
	}
}

func TestHandler_Stop(t *testing.T) {
	h := NewHandler(time.Second)
	ctx, stop := h.Notify(context.Background())
	stop()
	stop()

	select {
	case <-ctx.Done():
	default:
		t.Error("stop should cancel the context")
	}
}
