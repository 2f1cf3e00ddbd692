// Package api is the HTTP client for the coordination server's batch sync
// endpoint. It owns request construction, authentication, timeouts, and
// error classification; retry policy belongs to the sync engine, which
// persists attempt counters in the queue, so every call here is single-shot.
package api

import "encoding/json"

// Verdict is the server's per-item outcome for one submitted change.
type Verdict string

// Verdicts as returned in the batch response status field.
const (
	VerdictSuccess  Verdict = "success"
	VerdictConflict Verdict = "conflict"
	VerdictFailed   Verdict = "failed"
)

// Change is one queued operation in the outgoing batch request.
type Change struct {
	OfflineID  string          `json:"offlineId"`
	Type       string          `json:"type"`
	Action     string          `json:"action"`
	EntityUUID string          `json:"entityUuid"`
	Payload    json.RawMessage `json:"data,omitempty"`
}

// batchRequest is the body of POST /sync/batch.
type batchRequest struct {
	Changes []Change `json:"changes"`
}

// ItemResult is the server's verdict for one change, matched to the
// submitted batch by OfflineID (response order is not guaranteed).
type ItemResult struct {
	OfflineID    string          `json:"offlineId"`
	ServerID     string          `json:"serverId,omitempty"`
	Status       Verdict         `json:"status"`
	Message      string          `json:"message,omitempty"`
	ConflictData json.RawMessage `json:"conflictData,omitempty"`
}
