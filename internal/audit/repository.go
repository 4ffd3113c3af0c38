// Package audit persists the operator console and order audit trail to the
// event_log table and serves it back for the logs endpoint.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry kinds.
const (
	KindConsole = "console"
	KindOrder   = "order"
)

// timeFormat is fixed-width so created_at sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// List page bounds.
const (
	defaultLimit = 100
	maxLimit     = 500
)

// Entry represents a single event log record.
type Entry struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Level     string         `json:"level"`
	FlowID    string         `json:"flow_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Kind   string // optional: console or order
	FlowID string // optional
	NodeID string // optional
	Limit  int    // default 100, max 500
	Offset int
}

// ListResult contains a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for event log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new event log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID, Kind, Level and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.Kind == "" {
		e.Kind = KindConsole
	}
	if e.Level == "" {
		e.Level = "info"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var detailsJSON *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling entry details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (id, kind, level, flow_id, node_id, message, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Level,
		nullableString(e.FlowID), nullableString(e.NodeID),
		e.Message, detailsJSON,
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting event log entry: %w", err)
	}
	return nil
}

// nullableString maps empty strings to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"kind", filter.Kind},
		{"flow_id", filter.FlowID},
		{"node_id", filter.NodeID},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM event_log " + where //nolint:gosec // WHERE built from fixed column names
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting event log: %w", err)
	}

	query := "SELECT id, kind, level, flow_id, node_id, message, details, created_at FROM event_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var flowID, nodeID, detailsJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&e.ID, &e.Kind, &e.Level, &flowID, &nodeID,
		&e.Message, &detailsJSON, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning event log entry: %w", err)
	}

	e.FlowID = flowID.String
	e.NodeID = nodeID.String
	if detailsJSON.Valid && detailsJSON.String != "" {
		var details map[string]any
		if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
			e.Details = details
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing event log timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
