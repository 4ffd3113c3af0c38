// Package park is the location registry: named parks, their group and
// occupancy state.
package park

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Registry is the narrow view used by the flow engine: list a group and
// change one park's state.
type Registry interface {
	// List returns parks ordered by name. An empty group lists every park.
	List(ctx context.Context, group string) ([]Park, error)

	// SetState updates one park. Setting the current state again is not an error.
	SetState(ctx context.Context, name string, state State) error
}

// Repository is the full persistence interface used by the API.
type Repository interface {
	Registry
	Get(ctx context.Context, name string) (*Park, error)
	Upsert(ctx context.Context, p *Park) error
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed park repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// List returns parks in group (all parks when group is empty), ordered by name.
func (r *SQLiteRepository) List(ctx context.Context, group string) ([]Park, error) {
	query := `SELECT name, group_name, state, updated_at FROM parks`
	var args []any
	if group != "" {
		query += ` WHERE group_name = ?`
		args = append(args, group)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying parks: %w", err)
	}
	defer rows.Close()

	parks := []Park{}
	for rows.Next() {
		p, err := scanPark(rows)
		if err != nil {
			return nil, err
		}
		parks = append(parks, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parks: %w", err)
	}
	return parks, nil
}

// Get returns a single park by name.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (*Park, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT name, group_name, state, updated_at FROM parks WHERE name = ?`, name)
	p, err := scanPark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetState updates the state of the named park.
func (r *SQLiteRepository) SetState(ctx context.Context, name string, state State) error {
	if err := ValidateState(state); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE parks SET state = ?, updated_at = ? WHERE name = ?`,
		int(state), r.timestamp(), name)
	if err != nil {
		return fmt.Errorf("updating park %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating park %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert creates the park or replaces its group and state.
func (r *SQLiteRepository) Upsert(ctx context.Context, p *Park) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ts := r.timestamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO parks (name, group_name, state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET group_name = excluded.group_name,
		   state = excluded.state, updated_at = excluded.updated_at`,
		p.Name, p.Group, int(p.State), ts)
	if err != nil {
		return fmt.Errorf("upserting park %s: %w", p.Name, err)
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, ts) //nolint:errcheck // Format is controlled
	return nil
}

// Delete removes the named park.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM parks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting park %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting park %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPark(s scanner) (Park, error) {
	var p Park
	var state int
	var updatedAt string
	if err := s.Scan(&p.Name, &p.Group, &state, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Park{}, err
		}
		return Park{}, fmt.Errorf("scanning park: %w", err)
	}
	p.State = State(state)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return p, nil
}
