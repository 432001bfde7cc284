package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
)

// ActivityRepository implements ports.ActivityJournal using SQLite.
type ActivityRepository struct {
	conn *Connection
}

// NewActivityRepository opens the journal at dbPath.
func NewActivityRepository(dbPath string) (*ActivityRepository, error) {
	conn, err := NewConnection(dbPath)
	if err != nil {
		return nil, err
	}
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return &ActivityRepository{conn: conn}, nil
}

// Record appends a completed activity record.
func (r *ActivityRepository) Record(ctx context.Context, rec *ports.ActivityRecord) error {
	if rec == nil {
		return fmt.Errorf("activity record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO activity_records (
			id, kind, ref, status, detail, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.conn.DB().ExecContext(ctx, query,
		rec.ID,
		string(rec.Kind),
		rec.Ref,
		rec.Status,
		rec.Detail,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save activity record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, most recent first.
func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]*ports.ActivityRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, kind, ref, status, detail, started_at, completed_at
		FROM activity_records
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.conn.DB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity records: %w", err)
	}
	defer rows.Close()

	var records []*ports.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying connection.
func (r *ActivityRepository) Close() error {
	return r.conn.Close()
}

func scanActivity(rows *sql.Rows) (*ports.ActivityRecord, error) {
	var (
		rec       ports.ActivityRecord
		kind      string
		started   string
		completed string
	)
	if err := rows.Scan(&rec.ID, &kind, &rec.Ref, &rec.Status, &rec.Detail, &started, &completed); err != nil {
		return nil, fmt.Errorf("failed to scan activity record: %w", err)
	}
	rec.Kind = ports.ActivityKind(kind)

	var err error
	rec.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	return &rec, nil
}
