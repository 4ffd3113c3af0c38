// Package pointcache keeps the last-known value of every mirrored fieldbus
// point and runs the poller that refreshes it.
package pointcache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/parkflow/parkflow-core/internal/fieldbus"
)

var (
	// ErrNotFound is returned when a device has no cache row.
	ErrNotFound = errors.New("pointcache: not found")

	// ErrInvalidPoint is returned for point names other than in_1..in_8 and out_1..out_8.
	ErrInvalidPoint = errors.New("pointcache: invalid point")
)

// Row holds the cached points of one device.
type Row struct {
	Device    string                   `json:"device"`
	Inputs    [fieldbus.MaxPoints]bool `json:"inputs"`
	Outputs   [fieldbus.MaxPoints]bool `json:"outputs"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Point names a single cached column.
type Point struct {
	Output bool
	Index  int // 0-based
}

// String returns the column name, e.g. "in_3".
func (p Point) String() string {
	prefix := "in_"
	if p.Output {
		prefix = "out_"
	}
	return prefix + strconv.Itoa(p.Index+1)
}

// ParsePoint parses "in_1".."in_8" or "out_1".."out_8".
func ParsePoint(name string) (Point, error) {
	var p Point
	var num string
	switch {
	case strings.HasPrefix(name, "in_"):
		num = strings.TrimPrefix(name, "in_")
	case strings.HasPrefix(name, "out_"):
		p.Output = true
		num = strings.TrimPrefix(name, "out_")
	default:
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, name)
	}

	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > fieldbus.MaxPoints {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, name)
	}
	p.Index = n - 1
	return p, nil
}

// Value returns the cached value of p.
func (r Row) Value(p Point) bool {
	if p.Output {
		return r.Outputs[p.Index]
	}
	return r.Inputs[p.Index]
}

// RowFromSnapshot builds the row stored after a successful device read.
func RowFromSnapshot(device string, snap fieldbus.Snapshot, at time.Time) Row {
	return Row{
		Device:    device,
		Inputs:    snap.Inputs,
		Outputs:   snap.Outputs,
		UpdatedAt: at,
	}
}
