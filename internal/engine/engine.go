// Package engine orchestrates batched delivery of queued field operations
// to the coordination server. It is the only component that talks to the
// network: it gathers due queue items, dispatches them as one batch,
// interprets per-item verdicts, and applies the retry/backoff policy by
// writing attempt state back through the queue manager. A process runs
// exactly one Engine, constructed at the composition root — two engines
// against the same queue would double-submit batches.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relieftools/fieldsync/internal/api"
	"github.com/relieftools/fieldsync/internal/queue"
)

// DefaultMaxBatchSize caps how many items one cycle sends. A full batch
// does not chain into another cycle; the caller or timer drives cadence so
// a single device cannot monopolize the endpoint.
const DefaultMaxBatchSize = 100

// kickTimeout bounds the background sync triggered by Enqueue.
const kickTimeout = 2 * time.Minute

// BatchSender dispatches one batch of changes and returns per-item
// verdicts. Satisfied by *api.Client.
type BatchSender interface {
	SendBatch(ctx context.Context, changes []api.Change) ([]api.ItemResult, error)
}

// ItemOutcome is the engine-level outcome for one item of a cycle.
type ItemOutcome struct {
	OfflineID    string          `json:"offlineId"`
	ServerID     string          `json:"serverId,omitempty"`
	Status       api.Verdict     `json:"status"`
	Message      string          `json:"message,omitempty"`
	ConflictData json.RawMessage `json:"conflictData,omitempty"`
}

// BatchResult aggregates one sync cycle. Conflicts listed here have been
// removed from the queue and recorded in the conflict ledger; their fate is
// now external to the engine.
type BatchResult struct {
	Successful     []ItemOutcome `json:"successful"`
	Conflicts      []ItemOutcome `json:"conflicts"`
	Failed         []ItemOutcome `json:"failed"`
	TotalProcessed int           `json:"totalProcessed"`
}

// Config holds the collaborators and tuning knobs for New.
type Config struct {
	Queue        *queue.Manager
	Sender       BatchSender
	Monitor      *Monitor
	MaxBatchSize int           // 0 → DefaultMaxBatchSize
	BackoffBase  time.Duration // 0 → 30s
	BackoffCap   time.Duration // 0 → 30m
	Logger       *slog.Logger
}

// Engine coordinates sync cycles. The syncing flag is the sole concurrency
// control: at most one cycle runs at a time, and overlapping triggers
// (timer tick, connectivity event, enqueue kick, manual call) collapse
// into no-ops.
type Engine struct {
	queue       *queue.Manager
	sender      BatchSender
	monitor     *Monitor
	maxBatch    int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
	nowFunc     func() time.Time // injectable for deterministic tests

	syncing     atomic.Bool
	unsubscribe func()
	bg          sync.WaitGroup
	closed      atomic.Bool
}

// New creates the engine and subscribes it to connectivity transitions:
// regaining the link immediately triggers a cycle to flush whatever
// accumulated while offline.
func New(cfg *Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Sender == nil || cfg.Monitor == nil {
		return nil, fmt.Errorf("engine: queue, sender, and monitor are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}

	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}

	ceiling := cfg.BackoffCap
	if ceiling <= 0 {
		ceiling = defaultBackoffCap
	}

	e := &Engine{
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		monitor:     cfg.Monitor,
		maxBatch:    maxBatch,
		backoffBase: base,
		backoffCap:  ceiling,
		logger:      logger,
		nowFunc:     time.Now,
	}

	e.unsubscribe = e.monitor.OnChange(func(online bool) {
		if online {
			e.kickSync("connectivity restored")
		}
	})

	return e, nil
}

// Close tears the engine down: the connectivity subscription is released
// and in-flight background triggers are drained. The queue and monitor are
// owned by the composition root and closed there.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.unsubscribe()
	e.bg.Wait()
}

// Enqueue validates and persists a new operation, then fires a best-effort
// background sync. The caller never waits on the network: enqueue is
// instantaneous and durable even when the follow-up delivery fails.
func (e *Engine) Enqueue(
	ctx context.Context, typ queue.EntityType, action queue.Action,
	entityUUID string, payload json.RawMessage, priority int,
) (string, error) {
	id, err := e.queue.Add(ctx, typ, action, entityUUID, payload, priority)
	if err != nil {
		return "", err
	}

	e.kickSync("item enqueued")

	return id, nil
}

// kickSync triggers a cycle on a background goroutine. Skipped after Close.
func (e *Engine) kickSync(reason string) {
	if e.closed.Load() {
		return
	}

	e.bg.Add(1)

	go func() {
		defer e.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), kickTimeout)
		defer cancel()

		if _, err := e.TriggerSync(ctx); err != nil {
			e.logger.Warn("background sync failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// TriggerSync runs one sync cycle.
//
// Returns (nil, nil) when offline or when another cycle is already in
// flight — both are no-ops, not errors. Per-item failures never surface as
// an error; they land in the result's Failed list with attempt state
// written back to the queue. Only a queue read failure returns an error,
// and then the cycle's status is unknown to the caller.
func (e *Engine) TriggerSync(ctx context.Context) (*BatchResult, error) {
	if !e.monitor.Online() {
		e.logger.Debug("sync skipped: offline")
		return nil, nil
	}

	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync skipped: cycle already in flight")
		return nil, nil
	}
	defer e.syncing.Store(false)

	items, err := e.queue.Due(ctx, e.maxBatch)
	if err != nil {
		return nil, fmt.Errorf("engine: gathering batch: %w", err)
	}

	result := &BatchResult{}

	if len(items) == 0 {
		return result, nil
	}

	start := e.nowFunc()

	changes := make([]api.Change, len(items))
	for i := range items {
		changes[i] = api.Change{
			OfflineID:  items[i].UUID,
			Type:       string(items[i].Type),
			Action:     string(items[i].Action),
			EntityUUID: items[i].EntityUUID,
			Payload:    items[i].Payload,
		}
	}

	verdicts, err := e.sender.SendBatch(ctx, changes)
	if err != nil {
		// Transport failure covers the whole batch: every item gets a
		// synthesized failed verdict and goes through the same backoff
		// routing as a server-reported failure. One network blip neither
		// drops the batch nor retry-loops it instantly.
		e.logger.Warn("batch dispatch failed",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)

		verdicts = synthesizeFailures(items, err)
	}

	byID := make(map[string]api.ItemResult, len(verdicts))
	for _, v := range verdicts {
		byID[v.OfflineID] = v
	}

	for i := range items {
		item := &items[i]

		verdict, ok := byID[item.UUID]
		if !ok {
			// The contract is one verdict per submitted change; a missing
			// entry is routed as a failure so the item is retried.
			verdict = api.ItemResult{
				OfflineID: item.UUID,
				Status:    api.VerdictFailed,
				Message:   "no verdict returned for item",
			}
		}

		e.routeVerdict(ctx, item, verdict, result)
	}

	result.TotalProcessed = len(items)

	e.logger.Info("sync cycle complete",
		slog.Int("processed", result.TotalProcessed),
		slog.Int("succeeded", len(result.Successful)),
		slog.Int("conflicts", len(result.Conflicts)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration("duration", e.nowFunc().Sub(start)),
	)

	return result, nil
}

// routeVerdict applies one per-item verdict to the queue and the result.
func (e *Engine) routeVerdict(
	ctx context.Context, item *queue.Item, v api.ItemResult, result *BatchResult,
) {
	outcome := ItemOutcome{
		OfflineID:    item.UUID,
		ServerID:     v.ServerID,
		Status:       v.Status,
		Message:      v.Message,
		ConflictData: v.ConflictData,
	}

	switch v.Status {
	case api.VerdictSuccess:
		e.removeItem(ctx, item.UUID, "synced")
		result.Successful = append(result.Successful, outcome)

	case api.VerdictConflict:
		// The local operation was superseded by server state. Record the
		// hand-off, then drop the item — resolution happens outside the
		// engine and re-enters, if at all, as a fresh enqueue.
		record := &queue.ConflictRecord{
			ItemUUID:     item.UUID,
			Type:         item.Type,
			Action:       item.Action,
			EntityUUID:   item.EntityUUID,
			ServerID:     v.ServerID,
			Message:      v.Message,
			ConflictData: v.ConflictData,
		}

		if err := e.queue.RecordConflict(ctx, record); err != nil {
			e.logger.Error("recording conflict failed",
				slog.String("uuid", item.UUID),
				slog.String("error", err.Error()),
			)
		}

		e.removeItem(ctx, item.UUID, "conflict")
		result.Conflicts = append(result.Conflicts, outcome)

	default:
		e.routeFailure(ctx, item, &outcome)
		result.Failed = append(result.Failed, outcome)
	}
}

// routeFailure applies the retry policy to a failed item. Items already at
// the attempt cap are dropped instead of retried; everything else gets its
// counter bumped and a deterministic backoff window.
func (e *Engine) routeFailure(ctx context.Context, item *queue.Item, outcome *ItemOutcome) {
	if item.Attempts >= e.queue.MaxAttempts() {
		e.removeItem(ctx, item.UUID, "gave up after max attempts")
		return
	}

	nextRetry := e.nowFunc().Add(backoffDelay(e.backoffBase, e.backoffCap, item.Attempts))

	found, err := e.queue.MarkRetrying(ctx, item.UUID, nextRetry, outcome.Message)
	if err != nil {
		e.logger.Error("marking item retrying failed",
			slog.String("uuid", item.UUID),
			slog.String("error", err.Error()),
		)

		return
	}

	if !found {
		e.logger.Warn("failed item vanished before retry scheduling",
			slog.String("uuid", item.UUID),
		)

		return
	}

	e.logger.Debug("item scheduled for retry",
		slog.String("uuid", item.UUID),
		slog.Int("attempts", item.Attempts+1),
		slog.Time("next_retry", nextRetry),
	)
}

// removeItem deletes a queue item, logging rather than failing the cycle
// on store errors.
func (e *Engine) removeItem(ctx context.Context, id, why string) {
	if _, err := e.queue.Remove(ctx, id); err != nil {
		e.logger.Error("removing queue item failed",
			slog.String("uuid", id),
			slog.String("reason", why),
			slog.String("error", err.Error()),
		)
	}
}

// synthesizeFailures builds a failed verdict for every item of a batch
// whose dispatch failed in transit.
func synthesizeFailures(items []queue.Item, cause error) []api.ItemResult {
	verdicts := make([]api.ItemResult, len(items))
	for i := range items {
		verdicts[i] = api.ItemResult{
			OfflineID: items[i].UUID,
			Status:    api.VerdictFailed,
			Message:   cause.Error(),
		}
	}

	return verdicts
}
