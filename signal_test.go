package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownContext_CancelsOnSignal(t *testing.T) {
	ctx := shutdownContext(context.Background(), discardLogger())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled on SIGINT")
	}
}

func TestOnSIGHUP_InvokesCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)

	onSIGHUP(ctx, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, discardLogger())

	// Give the handler goroutine a moment to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP callback never fired")
	}
}

func TestTriggerRoundTrip(t *testing.T) {
	// sendSIGHUP against our own PID file exercises the full trigger path.
	path := filepath.Join(t.TempDir(), "fieldsync.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)

	onSIGHUP(ctx, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, discardLogger())

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sendSIGHUP(path))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered SIGHUP never reached the handler")
	}
}
