package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQL statements for queue operations. Each mutation is a single statement
// so that the CLI and the sync engine can interleave without races.
const (
	sqlInsertItem = `INSERT INTO sync_queue
		(uuid, entity_type, action, entity_uuid, payload, priority, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`

	sqlSelectItem = `SELECT uuid, entity_type, action, entity_uuid, payload,
		priority, attempts, created_at, last_attempt, next_retry, last_error
		FROM sync_queue`

	sqlRemoveItem = `DELETE FROM sync_queue WHERE uuid = ?`

	sqlMarkRetrying = `UPDATE sync_queue
		SET attempts = attempts + 1, last_attempt = ?, next_retry = ?, last_error = ?
		WHERE uuid = ?`

	sqlResetFailed = `UPDATE sync_queue
		SET attempts = 0, last_attempt = NULL, next_retry = NULL, last_error = NULL
		WHERE attempts >= ?`

	sqlReprioritizeType = `UPDATE sync_queue SET priority = ? WHERE entity_type = ?`

	// Gather predicate mirrors the derived-status rules: items at or over
	// the attempt cap are never eligible, and a backing-off item becomes
	// eligible once next_retry passes.
	sqlSelectDue = sqlSelectItem + `
		WHERE attempts < ? AND (next_retry IS NULL OR next_retry <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`
)

// newItemID returns a fresh queue item identifier.
func newItemID() string {
	return uuid.NewString()
}

// Add validates and persists a new queue item with zero attempts, returning
// its generated uuid. Invalid entity types, actions, or a missing entity
// uuid fail fast here — a malformed operation must never reach the queue.
// priority of zero or less gets DefaultPriority.
func (m *Manager) Add(
	ctx context.Context, typ EntityType, action Action, entityUUID string,
	payload json.RawMessage, priority int,
) (string, error) {
	if _, err := ParseEntityType(string(typ)); err != nil {
		return "", err
	}

	if _, err := ParseAction(string(action)); err != nil {
		return "", err
	}

	if entityUUID == "" {
		return "", errors.New("queue: entity uuid is required")
	}

	if priority <= 0 {
		priority = DefaultPriority
	}

	id := m.newID()
	createdAt := m.nowFunc().UnixNano()

	_, err := m.db.ExecContext(ctx, sqlInsertItem,
		id, string(typ), string(action), entityUUID,
		nullString(string(payload)), priority, createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("queue: inserting item for %s %s: %w", typ, action, err)
	}

	m.logger.Debug("queue item added",
		slog.String("uuid", id),
		slog.String("type", string(typ)),
		slog.String("action", string(action)),
		slog.Int("priority", priority),
	)

	return id, nil
}

// Get fetches a single item by uuid, decorated with its derived status.
// Returns (nil, nil) when the item does not exist — absence is not an error
// for readers, matching the rest of the read API.
func (m *Manager) Get(ctx context.Context, id string) (*Item, error) {
	row := m.db.QueryRowContext(ctx, sqlSelectItem+` WHERE uuid = ?`, id)

	item, err := m.scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("queue: getting item %s: %w", id, err)
	}

	return item, nil
}

// Update merges the given fields into a stored item. Returns false with a
// nil error when the uuid does not exist, so callers can distinguish
// "nothing to update" from a store failure.
func (m *Manager) Update(ctx context.Context, id string, u Update) (bool, error) {
	var (
		sets []string
		args []any
	)

	if u.Payload != nil {
		sets = append(sets, "payload = ?")
		args = append(args, string(u.Payload))
	}

	if u.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *u.Priority)
	}

	if u.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *u.Attempts)
	}

	if u.NextRetry != nil {
		sets = append(sets, "next_retry = ?")
		args = append(args, nullTime(u.NextRetry))
	}

	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullString(*u.LastError))
	}

	if len(sets) == 0 {
		return false, errors.New("queue: update with no fields")
	}

	args = append(args, id)

	result, err := m.db.ExecContext(ctx,
		`UPDATE sync_queue SET `+strings.Join(sets, ", ")+` WHERE uuid = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("queue: updating item %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: update rows affected for %s: %w", id, err)
	}

	return n > 0, nil
}

// Remove deletes an item. Removal is terminal: the uuid is never reused.
// Returns false with a nil error when the uuid was already gone.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	result, err := m.db.ExecContext(ctx, sqlRemoveItem, id)
	if err != nil {
		return false, fmt.Errorf("queue: removing item %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: remove rows affected for %s: %w", id, err)
	}

	return n > 0, nil
}

// MarkRetrying records a failed delivery attempt in one atomic statement:
// the attempt counter is incremented and the backoff window and error
// message are set. Returns false when the item no longer exists (it may
// have been removed by an operator mid-cycle).
func (m *Manager) MarkRetrying(
	ctx context.Context, id string, nextRetry time.Time, errMsg string,
) (bool, error) {
	result, err := m.db.ExecContext(ctx, sqlMarkRetrying,
		m.nowFunc().UnixNano(), nextRetry.UnixNano(), nullString(errMsg), id)
	if err != nil {
		return false, fmt.Errorf("queue: marking item %s retrying: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: retry rows affected for %s: %w", id, err)
	}

	return n > 0, nil
}

// Due returns up to limit items eligible for the next sync batch, ordered
// by priority descending then enqueue time ascending (oldest first within
// a priority — the fairness tie-break). Items at the attempt cap and items
// still inside their backoff window are excluded.
func (m *Manager) Due(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := m.db.QueryContext(ctx, sqlSelectDue,
		m.maxAttempts, m.nowFunc().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: querying due items: %w", err)
	}
	defer rows.Close()

	return m.collectItems(rows, "due")
}

// Pending returns items whose derived status is pending, sorted by priority
// descending, optionally capped at limit.
func (m *Manager) Pending(ctx context.Context, limit int) ([]Item, error) {
	return m.List(ctx, ListFilter{Status: StatusPending, Limit: limit})
}

// List returns queue items matching the filter. Status filtering and
// sorting happen in memory over the fetched set, which is fine at
// field-deployment queue scale (hundreds of items).
func (m *Manager) List(ctx context.Context, f ListFilter) ([]Item, error) {
	query := sqlSelectItem

	var args []any

	if f.Type != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, string(f.Type))
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: listing items: %w", err)
	}
	defer rows.Close()

	items, err := m.collectItems(rows, "list")
	if err != nil {
		return nil, err
	}

	if f.Status != "" {
		filtered := items[:0]

		for _, it := range items {
			if it.Status == f.Status {
				filtered = append(filtered, it)
			}
		}

		items = filtered
	}

	sortItems(items, f.SortBy, f.SortOrder)

	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return nil, nil
		}

		items = items[f.Offset:]
	}

	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}

	return items, nil
}

// Metrics computes aggregate counts in a single pass over the queue.
func (m *Manager) Metrics(ctx context.Context) (*Metrics, error) {
	items, err := m.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}

	metrics := &Metrics{
		ByType:   make(map[EntityType]int),
		ByAction: make(map[Action]int),
	}

	var attemptSum int

	for i := range items {
		it := &items[i]

		metrics.Total++
		metrics.ByType[it.Type]++
		metrics.ByAction[it.Action]++
		attemptSum += it.Attempts

		switch it.Status {
		case StatusPending:
			metrics.Pending++

			if metrics.OldestPending == nil || it.CreatedAt.Before(*metrics.OldestPending) {
				t := it.CreatedAt
				metrics.OldestPending = &t
			}
		case StatusRetrying:
			metrics.Retrying++
		case StatusMaxRetries:
			metrics.MaxRetries++
		case StatusFailed:
			metrics.Failed++
		}
	}

	if metrics.Total > 0 {
		metrics.AvgRetryAttempts = float64(attemptSum) / float64(metrics.Total)
	}

	return metrics, nil
}

// ResetFailed clears the attempt counter, backoff window, and error message
// of every item parked at max_retries, making them pending again. Returns
// the number of items reset. This is the operator escape hatch — no item is
// ever permanently stuck.
func (m *Manager) ResetFailed(ctx context.Context) (int, error) {
	result, err := m.db.ExecContext(ctx, sqlResetFailed, m.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("queue: resetting failed items: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: reset rows affected: %w", err)
	}

	if n > 0 {
		m.logger.Info("failed queue items reset", slog.Int64("count", n))
	}

	return int(n), nil
}

// ReprioritizeType bulk-sets the priority of every item of the given entity
// type. Returns the number of items updated.
func (m *Manager) ReprioritizeType(
	ctx context.Context, typ EntityType, priority int,
) (int, error) {
	if _, err := ParseEntityType(string(typ)); err != nil {
		return 0, err
	}

	result, err := m.db.ExecContext(ctx, sqlReprioritizeType, priority, string(typ))
	if err != nil {
		return 0, fmt.Errorf("queue: reprioritizing %s items: %w", typ, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: reprioritize rows affected: %w", err)
	}

	return int(n), nil
}

// Count returns the total number of queued items.
func (m *Manager) Count(ctx context.Context) (int, error) {
	var n int

	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: counting items: %w", err)
	}

	return n, nil
}

// collectItems scans all rows into decorated Items.
func (m *Manager) collectItems(rows *sql.Rows, desc string) ([]Item, error) {
	var items []Item

	for rows.Next() {
		item, err := m.scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("queue: scanning %s row: %w", desc, err)
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating %s rows: %w", desc, err)
	}

	return items, nil
}

// scanItem scans one row and derives the item's status.
func (m *Manager) scanItem(scan func(...any) error) (*Item, error) {
	var (
		it          Item
		typ         string
		action      string
		payload     sql.NullString
		createdAt   int64
		lastAttempt sql.NullInt64
		nextRetry   sql.NullInt64
		lastError   sql.NullString
	)

	err := scan(
		&it.UUID, &typ, &action, &it.EntityUUID, &payload,
		&it.Priority, &it.Attempts, &createdAt, &lastAttempt, &nextRetry, &lastError,
	)
	if err != nil {
		return nil, err
	}

	it.Type = EntityType(typ)
	it.Action = Action(action)
	it.CreatedAt = time.Unix(0, createdAt)
	it.LastAttempt = timePtr(lastAttempt)
	it.NextRetry = timePtr(nextRetry)
	it.LastError = lastError.String
	it.Status = DeriveStatus(it.Attempts, m.maxAttempts)

	if payload.Valid {
		it.Payload = json.RawMessage(payload.String)
	}

	return &it, nil
}

// sortItems orders items by the requested key, defaulting to priority
// descending. Ties always break on enqueue time ascending, keeping the
// ordering stable across calls.
func sortItems(items []Item, key SortKey, order SortOrder) {
	if key == "" {
		key = SortByPriority
	}

	if order == "" {
		order = SortDesc
	}

	desc := order == SortDesc

	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]

		switch key {
		case SortByCreatedAt:
			if desc {
				return b.CreatedAt.Before(a.CreatedAt)
			}

			return a.CreatedAt.Before(b.CreatedAt)

		case SortByAttempts:
			if a.Attempts != b.Attempts {
				if desc {
					return a.Attempts > b.Attempts
				}

				return a.Attempts < b.Attempts
			}

		default:
			if a.Priority != b.Priority {
				if desc {
					return a.Priority > b.Priority
				}

				return a.Priority < b.Priority
			}
		}

		return a.CreatedAt.Before(b.CreatedAt)
	})
}
