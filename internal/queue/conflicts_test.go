package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRecordConflict_RoundTrip(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	rec := &ConflictRecord{
		ItemUUID:     "item-1",
		Type:         EntityAssessment,
		Action:       ActionUpdate,
		EntityUUID:   "entity-1",
		ServerID:     "srv-42",
		Message:      "updated on server at 2026-08-30T10:00:00Z",
		ConflictData: json.RawMessage(`{"serverVersion":7}`),
	}

	if err := mgr.RecordConflict(ctx, rec); err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	records, err := mgr.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}

	got := records[0]

	if got.ID == "" {
		t.Error("ID not generated")
	}

	if got.ItemUUID != rec.ItemUUID || got.Type != rec.Type || got.Action != rec.Action {
		t.Errorf("record = %+v", got)
	}

	if got.ServerID != "srv-42" || got.Message != rec.Message {
		t.Errorf("server fields = %q %q", got.ServerID, got.Message)
	}

	if string(got.ConflictData) != `{"serverVersion":7}` {
		t.Errorf("ConflictData = %s", got.ConflictData)
	}

	if got.DetectedAt.IsZero() {
		t.Error("DetectedAt not set")
	}
}

func TestListConflicts_NewestFirst(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		rec := &ConflictRecord{
			ItemUUID:   "item",
			Type:       EntityResponse,
			Action:     ActionCreate,
			EntityUUID: "entity",
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
		}

		if err := mgr.RecordConflict(ctx, rec); err != nil {
			t.Fatalf("RecordConflict: %v", err)
		}
	}

	records, err := mgr.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	for i := 1; i < len(records); i++ {
		if records[i].DetectedAt.After(records[i-1].DetectedAt) {
			t.Errorf("records not in newest-first order at index %d", i)
		}
	}
}

func TestClearConflicts(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec := &ConflictRecord{
			ItemUUID:   "item",
			Type:       EntityCommitment,
			Action:     ActionDelete,
			EntityUUID: "entity",
		}

		if err := mgr.RecordConflict(ctx, rec); err != nil {
			t.Fatalf("RecordConflict: %v", err)
		}
	}

	n, err := mgr.ClearConflicts(ctx)
	if err != nil {
		t.Fatalf("ClearConflicts: %v", err)
	}

	if n != 2 {
		t.Errorf("ClearConflicts = %d, want 2", n)
	}

	records, err := mgr.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}

	if len(records) != 0 {
		t.Errorf("ledger not empty after clear: %d records", len(records))
	}
}
