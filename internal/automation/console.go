package automation

import (
	"context"
	"time"

	"github.com/parkflow/parkflow-core/internal/audit"
)

// Logger defines the logging interface used by the flow engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConsoleSink receives operator console entries. Emit must not block for long;
// it is called from the executing chain.
type ConsoleSink interface {
	Emit(ctx context.Context, e ConsoleEntry)
}

// ConsoleFunc adapts a function to ConsoleSink.
type ConsoleFunc func(ctx context.Context, e ConsoleEntry)

// Emit calls f.
func (f ConsoleFunc) Emit(ctx context.Context, e ConsoleEntry) { f(ctx, e) }

// MultiSink fans one entry out to several sinks in order. Nil sinks are skipped.
type MultiSink []ConsoleSink

// Emit implements ConsoleSink.
func (m MultiSink) Emit(ctx context.Context, e ConsoleEntry) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(context.Context, ConsoleEntry) {}

// Report writes one console line for the node being executed.
type Report func(level Level, message string, details map[string]any)

// OrderRecord is the audit record of one order submission.
type OrderRecord struct {
	FlowID      string
	NodeID      string
	OrderID     string
	Source      string
	Destination string
	Attempts    int
	Outcome     Outcome
	Duration    time.Duration
	Err         error
}

// OrderRecorder is told about every order that was submitted or given up on.
type OrderRecorder interface {
	RecordOrder(ctx context.Context, rec OrderRecord)
}

// OrderRecorders fans a record out to several recorders. Nil entries are skipped.
type OrderRecorders []OrderRecorder

// RecordOrder implements OrderRecorder.
func (rs OrderRecorders) RecordOrder(ctx context.Context, rec OrderRecord) {
	for _, r := range rs {
		if r != nil {
			r.RecordOrder(ctx, rec)
		}
	}
}

// Journal persists console entries and order records to the audit log.
type Journal struct {
	repo   audit.Repository
	logger Logger
}

// NewJournal creates a journal writing to repo.
func NewJournal(repo audit.Repository, logger Logger) *Journal {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{repo: repo, logger: logger}
}

// Emit implements ConsoleSink.
func (j *Journal) Emit(ctx context.Context, e ConsoleEntry) {
	j.write(ctx, &audit.Entry{
		Kind:      audit.KindConsole,
		Level:     string(e.Level),
		FlowID:    e.FlowID,
		NodeID:    e.NodeID,
		Message:   e.Message,
		Details:   e.Details,
		CreatedAt: e.Time,
	})
}

// RecordOrder implements OrderRecorder.
func (j *Journal) RecordOrder(ctx context.Context, rec OrderRecord) {
	level := string(LevelSuccess)
	msg := "order " + rec.OrderID + " accepted: " + rec.Source + " -> " + rec.Destination
	details := map[string]any{
		"order_id":    rec.OrderID,
		"source":      rec.Source,
		"destination": rec.Destination,
		"attempts":    rec.Attempts,
		"outcome":     string(rec.Outcome),
		"duration_ms": rec.Duration.Milliseconds(),
	}
	if rec.Outcome != OutcomeSucceeded {
		level = string(LevelError)
		msg = "order " + rec.OrderID + " not accepted: " + rec.Source + " -> " + rec.Destination
		if rec.Err != nil {
			details["error"] = rec.Err.Error()
		}
	}

	j.write(ctx, &audit.Entry{
		Kind:    audit.KindOrder,
		Level:   level,
		FlowID:  rec.FlowID,
		NodeID:  rec.NodeID,
		Message: msg,
		Details: details,
	})
}

func (j *Journal) write(ctx context.Context, e *audit.Entry) {
	// The journal must survive flow cancellation so the last entries of a
	// stopped run are kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := j.repo.Create(ctx, e); err != nil {
		j.logger.Error("failed to write audit entry", "kind", e.Kind, "error", err)
	}
}
