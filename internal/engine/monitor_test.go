package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func TestMonitor_StartsOffline(t *testing.T) {
	t.Parallel()

	m := NewMonitor(func(context.Context) error { return nil }, 0, testLogger(t))
	defer m.Close()

	if m.Online() {
		t.Error("monitor should start offline until the first probe")
	}
}

func TestMonitor_CheckTransitions(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		healthy bool
	)

	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()

		if healthy {
			return nil
		}

		return errors.New("connection refused")
	}

	m := NewMonitor(probe, 0, testLogger(t))
	defer m.Close()

	if m.Check(context.Background()) {
		t.Error("Check should report offline while the probe fails")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	if !m.Check(context.Background()) {
		t.Error("Check should report online when the probe succeeds")
	}

	if !m.Online() {
		t.Error("Online should reflect the last probe")
	}
}

func TestMonitor_ListenersFireOnTransitionOnly(t *testing.T) {
	t.Parallel()

	m := NewMonitor(func(context.Context) error { return nil }, 0, testLogger(t))
	defer m.Close()

	var (
		mu     sync.Mutex
		events []bool
	)

	unsubscribe := m.OnChange(func(online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	m.SetOnline(true)
	m.SetOnline(true) // no transition, no event
	m.SetOnline(false)

	mu.Lock()
	got := append([]bool(nil), events...)
	mu.Unlock()

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("events = %v, want [true false]", got)
	}

	// After unsubscribing, further transitions are silent.
	unsubscribe()
	m.SetOnline(true)

	mu.Lock()
	n := len(events)
	mu.Unlock()

	if n != 2 {
		t.Errorf("listener fired after unsubscribe (%d events)", n)
	}
}

func TestMonitor_StartProbesImmediately(t *testing.T) {
	t.Parallel()

	probed := make(chan struct{}, 1)

	probe := func(context.Context) error {
		select {
		case probed <- struct{}{}:
		default:
		}

		return nil
	}

	m := NewMonitor(probe, time.Hour, testLogger(t))

	m.Start(context.Background())
	defer m.Close()

	select {
	case <-probed:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not probe immediately")
	}
}

func TestMonitor_CloseWithoutStart(t *testing.T) {
	t.Parallel()

	m := NewMonitor(func(context.Context) error { return nil }, 0, testLogger(t))

	m.Close()
	m.Close() // idempotent
}
