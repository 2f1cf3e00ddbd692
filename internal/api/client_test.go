package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

func TestSendBatch_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotReq batchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sync/batch" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}

		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		results := []ItemResult{
			{OfflineID: "op-1", ServerID: "srv-1", Status: VerdictSuccess},
			{OfflineID: "op-2", Status: VerdictConflict, Message: "newer version on server"},
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(results); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, StaticToken("test-token"), 0, testLogger(t))

	changes := []Change{
		{OfflineID: "op-1", Type: "assessment", Action: "create", EntityUUID: "e1",
			Payload: json.RawMessage(`{"severity":"high"}`)},
		{OfflineID: "op-2", Type: "response", Action: "update", EntityUUID: "e2"},
	}

	results, err := client.SendBatch(context.Background(), changes)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}

	if len(gotReq.Changes) != 2 {
		t.Errorf("server saw %d changes, want 2", len(gotReq.Changes))
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	if results[0].Status != VerdictSuccess || results[0].ServerID != "srv-1" {
		t.Errorf("results[0] = %+v", results[0])
	}

	if results[1].Status != VerdictConflict {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestSendBatch_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil, 0, testLogger(t))

	_, err := client.SendBatch(context.Background(), []Change{{OfflineID: "op-1"}})
	if err == nil {
		t.Fatal("SendBatch should fail on 500")
	}

	if !errors.Is(err, ErrServer) {
		t.Errorf("err = %v, want ErrServer", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %T, want *StatusError", err)
	}

	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}

	if statusErr.Body == "" {
		t.Error("error body not captured")
	}
}

func TestSendBatch_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusBadGateway, ErrServer},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewClient(srv.URL, nil, nil, 0, testLogger(t))

		_, err := client.SendBatch(context.Background(), nil)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}

		srv.Close()
	}
}

func TestSendBatch_MalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil, 0, testLogger(t))

	if _, err := client.SendBatch(context.Background(), nil); err == nil {
		t.Fatal("SendBatch should fail on a malformed response body")
	}
}

func TestSendBatch_Timeout(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(started)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, nil, nil, 50*time.Millisecond, testLogger(t))

	done := make(chan error, 1)

	go func() {
		_, err := client.SendBatch(context.Background(), nil)
		done <- err
	}()

	<-started

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("SendBatch should fail when the server hangs past the timeout")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("per-request timeout did not fire")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil, 0, testLogger(t))

	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestHealth_Unreachable(t *testing.T) {
	t.Parallel()

	// A closed server refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close()

	client := NewClient(srv.URL, nil, nil, time.Second, testLogger(t))

	if err := client.Health(context.Background()); err == nil {
		t.Error("Health should fail against a dead server")
	}
}

func TestStaticToken(t *testing.T) {
	t.Parallel()

	tok, err := StaticToken("abc").Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	if tok != "abc" {
		t.Errorf("Token = %q", tok)
	}
}
