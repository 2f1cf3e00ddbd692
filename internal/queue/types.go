// Package queue implements the durable offline operation queue for fieldsync.
// Every local mutation made in the field (assessment edits, response records,
// commitments, entity changes) is persisted here as a queue item until the
// sync engine delivers it to the coordination server. The package owns all
// reads and writes to the queue database — the engine never bypasses it.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies which domain record a queued operation mutates.
type EntityType string

// Entity types as stored in the entity_type column.
const (
	EntityAssessment EntityType = "assessment"
	EntityResponse   EntityType = "response"
	EntityCommitment EntityType = "commitment"
	EntityRecord     EntityType = "entity"
)

// Action is the kind of mutation a queue item replays against the server.
type Action string

// Actions as stored in the action column.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Status is the derived state of a queue item. It is computed from the
// stored fields on every read and never persisted, so it cannot diverge
// from the attempt counters that define it.
type Status string

const (
	// StatusPending — never attempted, eligible for the next batch.
	StatusPending Status = "pending"
	// StatusRetrying — attempted at least once, still under the attempt cap.
	StatusRetrying Status = "retrying"
	// StatusMaxRetries — at or over the attempt cap; only an explicit
	// operator reset makes the item eligible again.
	StatusMaxRetries Status = "max_retries"
	// StatusFailed — reserved for immediate non-retryable failures.
	StatusFailed Status = "failed"
)

// DefaultMaxAttempts is the attempt cap applied when a Manager is created
// with zero. After this many failed deliveries an item is parked at
// max_retries and excluded from automatic batches.
const DefaultMaxAttempts = 3

// DefaultPriority is assigned when the caller does not specify one.
// Higher values are more urgent.
const DefaultPriority = 5

// Item is a single pending local mutation awaiting delivery.
type Item struct {
	UUID       string          // stable idempotency key, assigned at enqueue
	Type       EntityType      // domain record kind
	Action     Action          // create / update / delete
	EntityUUID string          // local identifier of the affected record
	Payload    json.RawMessage // opaque to the queue, replayed by the server
	Priority   int             // higher = more urgent
	Attempts   int             // delivery attempts made so far
	CreatedAt  time.Time       // enqueue time, FIFO tie-break within a priority

	LastAttempt *time.Time // most recent delivery attempt, nil if never tried
	NextRetry   *time.Time // earliest next attempt, nil when not backing off
	LastError   string     // last failure message, empty if never failed

	Status Status // derived on read, see DeriveStatus
}

// Metrics is an aggregate view of queue contents for status surfaces.
type Metrics struct {
	Total            int
	Pending          int
	Retrying         int
	Failed           int
	MaxRetries       int
	AvgRetryAttempts float64
	OldestPending    *time.Time
	ByType           map[EntityType]int
	ByAction         map[Action]int
}

// SortKey selects the ordering column for List.
type SortKey string

// Sort keys accepted by ListFilter.SortBy.
const (
	SortByPriority  SortKey = "priority"
	SortByCreatedAt SortKey = "timestamp"
	SortByAttempts  SortKey = "attempts"
)

// SortOrder selects ascending or descending ordering for List.
type SortOrder string

// Sort orders accepted by ListFilter.SortOrder.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListFilter narrows and orders the result of List. Zero values mean
// "no constraint"; the default ordering is priority descending.
type ListFilter struct {
	Type      EntityType // filter by entity type, "" = all
	Status    Status     // filter by derived status, "" = all
	Limit     int        // 0 = unlimited
	Offset    int
	SortBy    SortKey   // default SortByPriority
	SortOrder SortOrder // default SortDesc
}

// Update carries the mutable fields for Manager.Update. Nil pointers leave
// the stored value untouched.
type Update struct {
	Payload   json.RawMessage
	Priority  *int
	Attempts  *int
	NextRetry *time.Time // pointer-to-zero clears the column
	LastError *string
}

// DeriveStatus computes the status of an item from its attempt counter.
// maxAttempts of zero or less falls back to DefaultMaxAttempts.
func DeriveStatus(attempts, maxAttempts int) Status {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	switch {
	case attempts == 0:
		return StatusPending
	case attempts < maxAttempts:
		return StatusRetrying
	default:
		return StatusMaxRetries
	}
}

// ParseEntityType validates a string from user input or the wire.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityAssessment, EntityResponse, EntityCommitment, EntityRecord:
		return EntityType(s), nil
	default:
		return "", fmt.Errorf("queue: unknown entity type %q", s)
	}
}

// ParseAction validates a string from user input or the wire.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	default:
		return "", fmt.Errorf("queue: unknown action %q", s)
	}
}

// ConflictRecord is one entry in the conflict ledger: a queue item whose
// remote counterpart changed independently. The sync engine records the
// hand-off here and removes the item from the queue; resolution happens
// outside the engine, and a resolved operation re-enters as a fresh Add.
type ConflictRecord struct {
	ID           string
	ItemUUID     string // uuid of the removed queue item
	Type         EntityType
	Action       Action
	EntityUUID   string
	ServerID     string // server-side identifier, if the server reported one
	Message      string
	ConflictData json.RawMessage // server-provided snapshot for operator review
	DetectedAt   time.Time
}
