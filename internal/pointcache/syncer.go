package pointcache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parkflow/parkflow-core/internal/fieldbus"
)

// DefaultInterval is the device poll period.
const DefaultInterval = time.Second

// Reader reads a device snapshot. *fieldbus.Gateway satisfies it.
type Reader interface {
	Read(ctx context.Context, dev fieldbus.Device) (fieldbus.Snapshot, error)
}

// Logger is the logging interface used by the syncer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified after every successful refresh of a row.
type Observer func(ctx context.Context, row Row)

// Syncer mirrors device points into the Store on a fixed interval.
type Syncer struct {
	reader    Reader
	store     Store
	interval  time.Duration
	logger    Logger
	observers []Observer
	now       func() time.Time
}

// NewSyncer creates a syncer polling every interval (DefaultInterval if zero).
func NewSyncer(reader Reader, store Store, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Syncer{
		reader:   reader,
		store:    store,
		interval: interval,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the syncer.
func (s *Syncer) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Observe registers an observer. Not safe to call while Run is active.
func (s *Syncer) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

// Run polls every device on its own schedule until ctx is cancelled.
//
// Each device row is zeroed once before its first read. A failed read
// leaves the row untouched and never stops the other devices.
func (s *Syncer) Run(ctx context.Context, devices []fieldbus.Device) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			s.pollDevice(ctx, dev)
			return nil
		})
	}
	return g.Wait()
}

func (s *Syncer) pollDevice(ctx context.Context, dev fieldbus.Device) {
	if err := s.store.Reset(ctx, dev.ID); err != nil {
		s.logger.Warn("point cache reset failed", "device", dev.ID, "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.SyncOnce(ctx, dev)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce reads one device and stores the result. It reports whether the
// row was refreshed.
func (s *Syncer) SyncOnce(ctx context.Context, dev fieldbus.Device) bool {
	snap, err := s.reader.Read(ctx, dev)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("device read failed, keeping cached points", "device", dev.ID, "error", err)
		}
		return false
	}

	row := RowFromSnapshot(dev.ID, snap, s.now())
	if err := s.store.Upsert(ctx, row); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("point cache write failed", "device", dev.ID, "error", err)
		}
		return false
	}

	for _, o := range s.observers {
		o(ctx, row)
	}
	return true
}
