package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SQL statements for the conflict ledger.
const (
	sqlInsertConflict = `INSERT INTO conflicts
		(id, item_uuid, entity_type, action, entity_uuid, server_id,
		 message, conflict_data, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectConflicts = `SELECT id, item_uuid, entity_type, action, entity_uuid,
		server_id, message, conflict_data, detected_at
		FROM conflicts ORDER BY detected_at DESC`

	sqlClearConflicts = `DELETE FROM conflicts`
)

// RecordConflict appends an entry to the conflict ledger. Called by the
// sync engine when the server reports a conflict verdict, just before the
// superseded queue item is removed. Hand-off is terminal for the engine;
// a resolved operation re-enters the queue as a fresh Add.
func (m *Manager) RecordConflict(ctx context.Context, c *ConflictRecord) error {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	detectedAt := c.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = m.nowFunc()
	}

	_, err := m.db.ExecContext(ctx, sqlInsertConflict,
		id, c.ItemUUID, string(c.Type), string(c.Action), c.EntityUUID,
		nullString(c.ServerID), nullString(c.Message),
		nullString(string(c.ConflictData)), detectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("queue: recording conflict for item %s: %w", c.ItemUUID, err)
	}

	m.logger.Warn("conflict recorded",
		slog.String("item_uuid", c.ItemUUID),
		slog.String("type", string(c.Type)),
		slog.String("entity_uuid", c.EntityUUID),
	)

	return nil
}

// ListConflicts returns the full conflict ledger, newest first.
func (m *Manager) ListConflicts(ctx context.Context) ([]ConflictRecord, error) {
	rows, err := m.db.QueryContext(ctx, sqlSelectConflicts)
	if err != nil {
		return nil, fmt.Errorf("queue: listing conflicts: %w", err)
	}
	defer rows.Close()

	var records []ConflictRecord

	for rows.Next() {
		var (
			r            ConflictRecord
			typ          string
			action       string
			serverID     sql.NullString
			message      sql.NullString
			conflictData sql.NullString
			detectedAt   int64
		)

		err := rows.Scan(&r.ID, &r.ItemUUID, &typ, &action, &r.EntityUUID,
			&serverID, &message, &conflictData, &detectedAt)
		if err != nil {
			return nil, fmt.Errorf("queue: scanning conflict row: %w", err)
		}

		r.Type = EntityType(typ)
		r.Action = Action(action)
		r.ServerID = serverID.String
		r.Message = message.String
		r.DetectedAt = time.Unix(0, detectedAt)

		if conflictData.Valid {
			r.ConflictData = json.RawMessage(conflictData.String)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating conflict rows: %w", err)
	}

	return records, nil
}

// ClearConflicts empties the conflict ledger. Returns the number of entries
// removed. Used after an operator has exported or reviewed the backlog.
func (m *Manager) ClearConflicts(ctx context.Context) (int, error) {
	result, err := m.db.ExecContext(ctx, sqlClearConflicts)
	if err != nil {
		return 0, fmt.Errorf("queue: clearing conflicts: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: clear conflicts rows affected: %w", err)
	}

	return int(n), nil
}
