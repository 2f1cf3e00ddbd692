package spool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relieftools/fieldsync/internal/queue"
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

// fakeEnqueuer records admitted operations; fail makes every Enqueue error.
type fakeEnqueuer struct {
	mu   sync.Mutex
	ops  []Operation
	fail bool
}

func (f *fakeEnqueuer) Enqueue(
	_ context.Context, typ queue.EntityType, action queue.Action,
	entityUUID string, payload json.RawMessage, priority int,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return "", errors.New("queue unavailable")
	}

	f.ops = append(f.ops, Operation{
		Type:       string(typ),
		Action:     string(action),
		EntityUUID: entityUUID,
		Data:       payload,
		Priority:   priority,
	})

	return "uuid-1", nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.ops)
}

// dropFile writes one spool file.
func dropFile(t *testing.T, dir, name, content string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("writing spool file: %v", err)
	}
}

// countFiles returns the number of regular files in dir.
func countFiles(t *testing.T, dir string) int {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}

	n := 0

	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}

	return n
}

func TestNewWatcher_CreatesDirectories(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "spool")

	if _, err := NewWatcher(dir, &fakeEnqueuer{}, testLogger(t)); err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	for _, sub := range []string{"", doneDir, rejectDir} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("directory %q missing", sub)
		}
	}
}

func TestScanOnce_IngestsAndArchives(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enq := &fakeEnqueuer{}

	w, err := NewWatcher(dir, enq, testLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	dropFile(t, dir, "assessment.json",
		`{"type":"assessment","action":"create","entityUuid":"e1","data":{"severity":"high"},"priority":8}`)
	dropFile(t, dir, "notes.txt", "not an operation file")

	n := w.ScanOnce(context.Background())
	if n != 1 {
		t.Errorf("ScanOnce = %d, want 1", n)
	}

	if enq.count() != 1 {
		t.Fatalf("enqueued = %d, want 1", enq.count())
	}

	op := enq.ops[0]
	if op.Type != "assessment" || op.Action != "create" || op.EntityUUID != "e1" {
		t.Errorf("op = %+v", op)
	}

	if op.Priority != 8 {
		t.Errorf("Priority = %d, want 8", op.Priority)
	}

	// The handled file moved to processed/; the .txt stays put.
	if got := countFiles(t, filepath.Join(dir, doneDir)); got != 1 {
		t.Errorf("processed/ has %d files, want 1", got)
	}

	if got := countFiles(t, dir); got != 1 {
		t.Errorf("spool dir has %d files, want the .txt only", got)
	}
}

func TestScanOnce_RejectsMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enq := &fakeEnqueuer{}

	w, err := NewWatcher(dir, enq, testLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	dropFile(t, dir, "broken.json", `{"type":`)

	w.ScanOnce(context.Background())

	if enq.count() != 0 {
		t.Error("malformed file was enqueued")
	}

	if got := countFiles(t, filepath.Join(dir, rejectDir)); got != 1 {
		t.Errorf("rejected/ has %d files, want 1", got)
	}
}

func TestScanOnce_RejectsOnEnqueueFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enq := &fakeEnqueuer{fail: true}

	w, err := NewWatcher(dir, enq, testLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	dropFile(t, dir, "op.json",
		`{"type":"response","action":"update","entityUuid":"e2"}`)

	w.ScanOnce(context.Background())

	if got := countFiles(t, filepath.Join(dir, rejectDir)); got != 1 {
		t.Errorf("rejected/ has %d files, want 1", got)
	}
}

func TestRun_IngestsDroppedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enq := &fakeEnqueuer{}

	w, err := NewWatcher(dir, enq, testLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before dropping the file.
	time.Sleep(200 * time.Millisecond)

	dropFile(t, dir, "commit.json",
		`{"type":"commitment","action":"create","entityUuid":"e3"}`)

	deadline := time.Now().Add(5 * time.Second)
	for enq.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped file never ingested")
		}

		time.Sleep(20 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestRun_DrainsExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enq := &fakeEnqueuer{}

	w, err := NewWatcher(dir, enq, testLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	// Present before the watcher starts.
	dropFile(t, dir, "early.json",
		`{"type":"entity","action":"delete","entityUuid":"e4"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for enq.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pre-existing file never ingested")
		}

		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}
