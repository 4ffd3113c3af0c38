package pointcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parkflow/parkflow-core/internal/fieldbus"
)

// Store persists point cache rows.
type Store interface {
	Get(ctx context.Context, device string) (*Row, error)
	Upsert(ctx context.Context, row Row) error

	// Reset zeroes every point of the device, creating the row if needed.
	Reset(ctx context.Context, device string) error

	// ReadPoint returns one cached value. A device without a row gets a
	// zeroed row and reads false.
	ReadPoint(ctx context.Context, device string, p Point) (bool, error)
}

// columns lists the point columns in storage order.
var columns = func() []string {
	cols := make([]string, 0, 2*fieldbus.MaxPoints)
	for _, out := range []bool{false, true} {
		for i := 0; i < fieldbus.MaxPoints; i++ {
			cols = append(cols, Point{Output: out, Index: i}.String())
		}
	}
	return cols
}()

var (
	selectQuery = `SELECT device_address, ` + strings.Join(columns, ", ") +
		`, updated_at FROM point_cache WHERE device_address = ?`

	upsertQuery = func() string {
		sets := make([]string, len(columns))
		for i, c := range columns {
			sets[i] = c + " = excluded." + c
		}
		return `INSERT INTO point_cache (device_address, ` + strings.Join(columns, ", ") + `, updated_at)
			VALUES (?` + strings.Repeat(", ?", len(columns)+1) + `)
			ON CONFLICT(device_address) DO UPDATE SET ` + strings.Join(sets, ", ") +
			`, updated_at = excluded.updated_at`
	}()

	// ensureRowQuery relies on the column defaults for a zeroed row.
	ensureRowQuery = `INSERT INTO point_cache (device_address, updated_at) VALUES (?, ?)
		ON CONFLICT(device_address) DO NOTHING`
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a point cache store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Get returns the cached row for device.
func (s *SQLiteStore) Get(ctx context.Context, device string) (*Row, error) {
	vals := make([]int, len(columns))
	dest := make([]any, 0, len(columns)+2)
	var row Row
	var updatedAt string
	dest = append(dest, &row.Device)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	dest = append(dest, &updatedAt)

	err := s.db.QueryRowContext(ctx, selectQuery, device).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading point cache for %s: %w", device, err)
	}

	for i := 0; i < fieldbus.MaxPoints; i++ {
		row.Inputs[i] = vals[i] != 0
		row.Outputs[i] = vals[fieldbus.MaxPoints+i] != 0
	}
	row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
	return &row, nil
}

// Upsert writes all points of row.
func (s *SQLiteStore) Upsert(ctx context.Context, row Row) error {
	if row.Device == "" {
		return errors.New("pointcache: empty device key")
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = s.now()
	}

	args := make([]any, 0, len(columns)+2)
	args = append(args, row.Device)
	for _, v := range row.Inputs {
		args = append(args, boolToInt(v))
	}
	for _, v := range row.Outputs {
		args = append(args, boolToInt(v))
	}
	args = append(args, row.UpdatedAt.UTC().Format(time.RFC3339Nano))

	if _, err := s.db.ExecContext(ctx, upsertQuery, args...); err != nil {
		return fmt.Errorf("writing point cache for %s: %w", row.Device, err)
	}
	return nil
}

// Reset zeroes the device row.
func (s *SQLiteStore) Reset(ctx context.Context, device string) error {
	return s.Upsert(ctx, Row{Device: device, UpdatedAt: s.now()})
}

// ReadPoint returns one cached value. A missing row is inserted zeroed,
// never over a row a concurrent sync has just written.
func (s *SQLiteStore) ReadPoint(ctx context.Context, device string, p Point) (bool, error) {
	if device == "" {
		return false, errors.New("pointcache: empty device key")
	}
	if p.Index < 0 || p.Index >= fieldbus.MaxPoints {
		return false, fmt.Errorf("%w: %s", ErrInvalidPoint, p)
	}

	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, ensureRowQuery, device, stamp); err != nil {
		return false, fmt.Errorf("creating point cache row for %s: %w", device, err)
	}

	var v int
	query := `SELECT ` + p.String() + ` FROM point_cache WHERE device_address = ?`
	if err := s.db.QueryRowContext(ctx, query, device).Scan(&v); err != nil {
		return false, fmt.Errorf("reading %s of %s: %w", p, device, err)
	}
	return v != 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
