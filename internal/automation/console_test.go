package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parkflow/parkflow-core/internal/audit"
	"github.com/parkflow/parkflow-core/internal/infrastructure/database/dbtest"
)

func TestJournal_EmitSurvivesCancellation(t *testing.T) {
	repo := audit.NewSQLiteRepository(dbtest.Open(t))
	j := NewJournal(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Emit(ctx, ConsoleEntry{
		Time:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		FlowID:  "default",
		NodeID:  "m1",
		Level:   LevelWarning,
		Message: "stopped while waiting for an idle fleet",
	})

	res, err := repo.List(context.Background(), audit.Filter{Kind: audit.KindConsole})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("Total = %d, want 1", res.Total)
	}
	e := res.Entries[0]
	if e.Level != "warning" || e.FlowID != "default" || e.NodeID != "m1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestJournal_RecordOrder(t *testing.T) {
	repo := audit.NewSQLiteRepository(dbtest.Open(t))
	j := NewJournal(repo, nil)
	ctx := context.Background()

	j.RecordOrder(ctx, OrderRecord{
		FlowID: "default", NodeID: "m1", OrderID: "1700000000000",
		Source: "L-01", Destination: "B-01", Attempts: 1, Outcome: OutcomeSucceeded,
	})
	j.RecordOrder(ctx, OrderRecord{
		FlowID: "default", NodeID: "m1", OrderID: "1700000000001",
		Source: "L-02", Destination: "B-02", Attempts: 100, Outcome: OutcomeFailed,
		Err: errors.New("503 Service Unavailable"),
	})

	res, err := repo.List(ctx, audit.Filter{Kind: audit.KindOrder})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}

	byLevel := map[string]audit.Entry{}
	for _, e := range res.Entries {
		byLevel[e.Level] = e
	}
	ok, found := byLevel["success"]
	if !found || ok.Details["source"] != "L-01" || ok.Details["outcome"] != "succeeded" {
		t.Errorf("accepted order entry = %+v", ok)
	}
	bad, found := byLevel["error"]
	if !found || bad.Details["error"] != "503 Service Unavailable" || bad.Details["attempts"] != float64(100) {
		t.Errorf("failed order entry = %+v", bad)
	}
}

// ─── Mock Audit Repository ──────────────────────────────────────────────────

type failingAudit struct{}

func (failingAudit) Create(context.Context, *audit.Entry) error {
	return errors.New("disk full")
}

func (failingAudit) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{}, nil
}

func TestJournal_WriteFailureIsLogged(t *testing.T) {
	logger := &countingLogger{}
	j := NewJournal(failingAudit{}, logger)

	j.Emit(context.Background(), ConsoleEntry{Message: "x"})
	if logger.errors != 1 {
		t.Errorf("logged errors = %d, want 1", logger.errors)
	}
}

type countingLogger struct {
	noopLogger
	errors int
}

func (l *countingLogger) Error(string, ...any) { l.errors++ }

func TestMultiSink_SkipsNil(t *testing.T) {
	a, b := &consoleRecorder{}, &consoleRecorder{}
	MultiSink{a, nil, b}.Emit(context.Background(), ConsoleEntry{Message: "hello"})

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Errorf("entries = %d / %d, want 1 / 1", len(a.all()), len(b.all()))
	}
}

func TestOrderRecorders_FanOut(t *testing.T) {
	var got []string
	rec := func(name string) OrderRecorder {
		return orderFunc(func(_ context.Context, r OrderRecord) { got = append(got, name+":"+r.OrderID) })
	}

	OrderRecorders{rec("a"), nil, rec("b")}.RecordOrder(context.Background(), OrderRecord{OrderID: "42"})

	if len(got) != 2 || got[0] != "a:42" || got[1] != "b:42" {
		t.Errorf("recorded = %v", got)
	}
}
