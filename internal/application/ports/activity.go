package ports

import (
	"context"
	"time"
)

// ActivityKind classifies a journal entry.
type ActivityKind string

const (
	ActivitySyncPush  ActivityKind = "sync_push"
	ActivitySyncPull  ActivityKind = "sync_pull"
	ActivityCommand   ActivityKind = "command"
	ActivityChat      ActivityKind = "chat"
	ActivityHeartbeat ActivityKind = "heartbeat"
)

// ActivityRecord is one completed unit of daemon work. The journal exists
// for local observability (`petsync status`); the reconciler never reads it
// back, so losing it is harmless.
type ActivityRecord struct {
	ID          string
	Kind        ActivityKind
	Ref         string // command action, chat id, or empty
	Status      string // ok or error
	Detail      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// ActivityJournal persists activity records.
type ActivityJournal interface {
	// Record appends a completed activity record.
	Record(ctx context.Context, rec *ActivityRecord) error

	// Recent returns up to limit records, most recent first.
	Recent(ctx context.Context, limit int) ([]*ActivityRecord, error)

	// Close releases underlying resources.
	Close() error
}
