package automation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parkflow/parkflow-core/internal/dispatch"
	"github.com/parkflow/parkflow-core/internal/park"
)

func lineAndBuffer() *mockRegistry {
	return newMockRegistry(
		park.Park{Name: "L-02", Group: "line", State: park.Ready},
		park.Park{Name: "L-01", Group: "line", State: park.Ready},
		park.Park{Name: "L-03", Group: "line", State: park.Occupied},
		park.Park{Name: "B-02", Group: "buffer", State: park.Reserved},
		park.Park{Name: "B-01", Group: "buffer", State: park.Occupied},
	)
}

// ─── Move ───────────────────────────────────────────────────────────────────

func TestMove_Success(t *testing.T) {
	reg := lineAndBuffer()
	locks := NewLockManager()
	disp := newMockDispatcher()
	disp.failures = 2

	var recorded []OrderRecord
	m := NewMoveExecutor("flow-1", reg, locks, disp, DefaultParkStates())
	m.SetOrderRecorder(orderFunc(func(_ context.Context, rec OrderRecord) { recorded = append(recorded, rec) }))

	res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), discardReport)
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("Execute() outcome = %s (%v), want succeeded", res.Outcome, res.Err)
	}

	orders := disp.orders()
	if len(orders) != 1 || orders[0].Source != "L-01" || orders[0].Destination != "B-02" {
		t.Fatalf("submitted orders = %+v, want one L-01 -> B-02", orders)
	}
	if got := reg.state("L-01"); got != park.Reserved {
		t.Errorf("source state = %d, want 1", got)
	}
	if got := reg.state("B-02"); got != park.Ready {
		t.Errorf("destination state = %d, want 3", got)
	}
	if reserved := locks.Reserved(); len(reserved) != 0 {
		t.Errorf("reservations left = %v", reserved)
	}
	if len(recorded) != 1 || recorded[0].Attempts != 3 || recorded[0].Outcome != OutcomeSucceeded || recorded[0].NodeID != "m1" {
		t.Errorf("order record = %+v", recorded)
	}
}

func TestMove_NotReady(t *testing.T) {
	tests := []struct {
		name  string
		parks []park.Park
	}{
		{"no ready source", []park.Park{
			{Name: "L-01", Group: "line", State: park.Occupied},
			{Name: "B-01", Group: "buffer", State: park.Reserved},
		}},
		{"no free destination", []park.Park{
			{Name: "L-01", Group: "line", State: park.Ready},
			{Name: "B-01", Group: "buffer", State: park.Occupied},
		}},
		{"empty groups", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newMockRegistry(tt.parks...)
			disp := newMockDispatcher()
			locks := NewLockManager()
			m := NewMoveExecutor("f", reg, locks, disp, DefaultParkStates())

			res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), discardReport)
			if res.Outcome != OutcomeNotSatisfied || !errors.Is(res.Err, ErrNotReady) {
				t.Errorf("Execute() = %s (%v), want not_satisfied ErrNotReady", res.Outcome, res.Err)
			}
			if len(disp.orders()) != 0 {
				t.Error("order submitted although no pair was eligible")
			}
			if len(reg.setCalls()) != 0 {
				t.Error("park state changed although no pair was eligible")
			}
		})
	}
}

func TestMove_SkipsReservedParks(t *testing.T) {
	reg := lineAndBuffer()
	locks := NewLockManager()
	locks.Reserve("L-01")
	disp := newMockDispatcher()

	m := NewMoveExecutor("f", reg, locks, disp, DefaultParkStates())
	if res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), discardReport); !res.Continue() {
		t.Fatalf("Execute() = %s (%v)", res.Outcome, res.Err)
	}
	if orders := disp.orders(); orders[0].Source != "L-02" {
		t.Errorf("source = %s, want L-02 (L-01 reserved)", orders[0].Source)
	}
	if !locks.IsReserved("L-01") {
		t.Error("foreign reservation was released")
	}
}

func TestMove_SameGroupNeverPairsParkWithItself(t *testing.T) {
	reg := newMockRegistry(park.Park{Name: "P-01", Group: "bay", State: park.Ready})
	m := NewMoveExecutor("f", reg, NewLockManager(), newMockDispatcher(), ParkStates{Source: park.Ready, Destination: park.Ready})

	if res := m.Execute(context.Background(), moveNode("m1", "bay", "bay"), discardReport); res.Outcome != OutcomeNotSatisfied {
		t.Errorf("Execute() = %s, want not_satisfied", res.Outcome)
	}
}

func TestMove_MutualExclusion(t *testing.T) {
	reg := newMockRegistry(
		park.Park{Name: "L-01", Group: "line", State: park.Ready},
		park.Park{Name: "B-01", Group: "buffer", State: park.Reserved},
	)
	locks := NewLockManager()
	disp := newMockDispatcher()
	disp.idleGate = make(chan struct{})
	m := NewMoveExecutor("f", reg, locks, disp, DefaultParkStates())

	results := make(chan Result, 2)
	for _, id := range []string{"m1", "m2"} {
		id := id
		go func() {
			results <- m.Execute(context.Background(), moveNode(id, "line", "buffer"), discardReport)
		}()
	}

	// The loser must finish while the winner still holds the reservation.
	first := <-results
	if first.Outcome != OutcomeNotSatisfied {
		t.Fatalf("first result = %s (%v), want not_satisfied", first.Outcome, first.Err)
	}
	if got := locks.Reserved(); len(got) != 2 {
		t.Fatalf("reserved = %v, want the winner's pair", got)
	}

	close(disp.idleGate)
	second := <-results
	if second.Outcome != OutcomeSucceeded {
		t.Fatalf("second result = %s (%v), want succeeded", second.Outcome, second.Err)
	}
	if n := len(disp.orders()); n != 1 {
		t.Errorf("orders submitted = %d, want 1", n)
	}
	if got := locks.Reserved(); len(got) != 0 {
		t.Errorf("reservations left = %v", got)
	}
}

func TestMove_IdleTimeoutFails(t *testing.T) {
	reg := lineAndBuffer()
	locks := NewLockManager()
	disp := newMockDispatcher()
	disp.idleErr = dispatch.ErrIdleTimeout

	m := NewMoveExecutor("f", reg, locks, disp, DefaultParkStates())
	res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), discardReport)

	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, dispatch.ErrIdleTimeout) {
		t.Errorf("Execute() = %s (%v), want failed ErrIdleTimeout", res.Outcome, res.Err)
	}
	if len(locks.Reserved()) != 0 {
		t.Error("reservation not released after idle timeout")
	}
	if len(disp.orders()) != 0 {
		t.Error("order submitted despite busy fleet")
	}
}

func TestMove_ConfirmFailureIsOnlyReported(t *testing.T) {
	reg := lineAndBuffer()
	reg.setErr["L-01"] = errors.New("registry offline")
	var warnings int
	report := func(level Level, _ string, _ map[string]any) {
		if level == LevelWarning {
			warnings++
		}
	}

	m := NewMoveExecutor("f", reg, NewLockManager(), newMockDispatcher(), DefaultParkStates())
	res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), report)

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("Execute() = %s, want succeeded", res.Outcome)
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
	if got := reg.state("B-02"); got != park.Ready {
		t.Errorf("destination state = %d, want 3 despite source failure", got)
	}
}

// fleetServer answers the dispatch endpoints: the fleet is always idle and
// order posts get the status chosen by orderStatus.
func fleetServer(t *testing.T, orderStatus func(n int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agvs/check-orderid":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"allOrderIdNull":true}`)) //nolint:errcheck // Test server
		case "/orders":
			w.WriteHeader(orderStatus(posts.Add(1)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestMove_ExhaustedRetriesLeaveParksUnchanged(t *testing.T) {
	srv, posts := fleetServer(t, func(int32) int { return http.StatusInternalServerError })
	cfg := dispatch.DefaultConfig(srv.URL)
	cfg.MaxAttempts = 3
	cfg.RetryDelay = time.Millisecond
	cfg.IdlePoll = time.Millisecond

	reg := lineAndBuffer()
	locks := NewLockManager()
	var recorded []OrderRecord
	m := NewMoveExecutor("f", reg, locks, dispatch.NewClient(cfg), DefaultParkStates())
	m.SetOrderRecorder(orderFunc(func(_ context.Context, rec OrderRecord) { recorded = append(recorded, rec) }))

	res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), discardReport)

	if res.Outcome != OutcomeFailed || !dispatch.IsRejected(res.Err) {
		t.Fatalf("Execute() = %s (%v), want failed rejection", res.Outcome, res.Err)
	}
	if posts.Load() != 3 {
		t.Errorf("order posts = %d, want 3", posts.Load())
	}
	if reg.state("L-01") != park.Ready || reg.state("B-02") != park.Reserved {
		t.Error("park states changed after exhausted retries")
	}
	if len(locks.Reserved()) != 0 {
		t.Errorf("reservations left = %v", locks.Reserved())
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeFailed || recorded[0].Attempts != 3 {
		t.Errorf("order record = %+v", recorded)
	}
}

func TestMove_AttemptLogTellsRejectionFromTransport(t *testing.T) {
	tests := []struct {
		name         string
		failErr      error
		wantMessage  string
		wantRejected bool
	}{
		{"rejected", &dispatch.HTTPError{StatusCode: 503, Body: "busy"}, "rejected by the dispatch service", true},
		{"unreachable", nil, "did not reach the dispatch service", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := newMockDispatcher()
			disp.failures = 1
			disp.failErr = tt.failErr

			var warnings []string
			var rejected []any
			report := func(level Level, message string, details map[string]any) {
				if level == LevelWarning {
					warnings = append(warnings, message)
					rejected = append(rejected, details["rejected"])
				}
			}

			m := NewMoveExecutor("f", lineAndBuffer(), NewLockManager(), disp, DefaultParkStates())
			if res := m.Execute(context.Background(), moveNode("m1", "line", "buffer"), report); res.Outcome != OutcomeSucceeded {
				t.Fatalf("Execute() = %s (%v), want succeeded", res.Outcome, res.Err)
			}

			if len(warnings) != 1 || !strings.Contains(warnings[0], tt.wantMessage) {
				t.Fatalf("warnings = %v, want one containing %q", warnings, tt.wantMessage)
			}
			if rejected[0] != tt.wantRejected {
				t.Errorf("rejected detail = %v, want %v", rejected[0], tt.wantRejected)
			}
		})
	}
}

func TestMove_CancelMidRetryReleasesEverything(t *testing.T) {
	srv, posts := fleetServer(t, func(int32) int { return http.StatusServiceUnavailable })
	cfg := dispatch.DefaultConfig(srv.URL)
	cfg.RetryDelay = 200 * time.Millisecond
	cfg.IdlePoll = time.Millisecond

	reg := lineAndBuffer()
	locks := NewLockManager()
	m := NewMoveExecutor("f", reg, locks, dispatch.NewClient(cfg), DefaultParkStates())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- m.Execute(ctx, moveNode("m1", "line", "buffer"), discardReport) }()

	waitFor(t, 2*time.Second, func() bool { return posts.Load() >= 1 })
	cancel()
	cancelledAt := time.Now()

	select {
	case res := <-done:
		if res.Outcome != OutcomeCancelled {
			t.Errorf("Execute() = %s (%v), want cancelled", res.Outcome, res.Err)
		}
		if waited := time.Since(cancelledAt); waited > cfg.RetryDelay {
			t.Errorf("abort took %v, want within one retry interval", waited)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("move did not stop after cancellation")
	}

	if len(locks.Reserved()) != 0 {
		t.Errorf("reservations left = %v", locks.Reserved())
	}
	for name, acquire := range map[string]func(context.Context) (func(), error){
		"selection":  locks.AcquireSelection,
		"submission": locks.AcquireSubmission,
	} {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		release, err := acquire(ctx)
		cancel()
		if err != nil {
			t.Errorf("%s lock still held after cancellation", name)
		}
		release()
	}
	if reg.state("L-01") != park.Ready || reg.state("B-02") != park.Reserved {
		t.Error("park states changed after cancellation")
	}
}

type orderFunc func(ctx context.Context, rec OrderRecord)

func (f orderFunc) RecordOrder(ctx context.Context, rec OrderRecord) { f(ctx, rec) }

func TestLogAttempt(t *testing.T) {
	var logged []int
	for i := 1; i <= 12; i++ {
		if logAttempt(i, 12) {
			logged = append(logged, i)
		}
	}
	want := []int{1, 5, 10, 12}
	if len(logged) != len(want) {
		t.Fatalf("logged = %v, want %v", logged, want)
	}
	for i := range want {
		if logged[i] != want[i] {
			t.Fatalf("logged = %v, want %v", logged, want)
		}
	}
}

// ─── Set ────────────────────────────────────────────────────────────────────

func TestSet_Idempotent(t *testing.T) {
	reg := lineAndBuffer()
	s := NewSetExecutor(reg)
	node := setNode("s1", "L-03", park.Available)

	for i := 0; i < 2; i++ {
		if res := s.Execute(context.Background(), node, discardReport); res.Outcome != OutcomeSucceeded {
			t.Fatalf("Execute() #%d = %s (%v)", i+1, res.Outcome, res.Err)
		}
	}
	if got := reg.state("L-03"); got != park.Available {
		t.Errorf("state = %d, want 0", got)
	}
}

func TestSet_Failure(t *testing.T) {
	reg := lineAndBuffer()
	s := NewSetExecutor(reg)

	res := s.Execute(context.Background(), setNode("s1", "missing", park.Ready), discardReport)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, park.ErrNotFound) {
		t.Errorf("Execute() = %s (%v), want failed ErrNotFound", res.Outcome, res.Err)
	}
	if calls := reg.setCalls(); len(calls) != 1 {
		t.Errorf("SetState calls = %d, want exactly 1 (no retry)", len(calls))
	}
}

func TestSet_MissingTargetState(t *testing.T) {
	s := NewSetExecutor(lineAndBuffer())
	node := Node{ID: "s1", Kind: KindSet, Config: NodeConfig{LocationName: "L-01"}}

	if res := s.Execute(context.Background(), node, discardReport); !errors.Is(res.Err, ErrInvalidNode) {
		t.Errorf("Execute() err = %v, want ErrInvalidNode", res.Err)
	}
}

// ─── Check ──────────────────────────────────────────────────────────────────

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		state   park.State
		listErr error
		want    Outcome
	}{
		{"match", "line", park.Ready, nil, OutcomeSucceeded},
		{"no park in state", "line", park.Available, nil, OutcomeNotSatisfied},
		{"unknown group", "nowhere", park.Ready, nil, OutcomeNotSatisfied},
		{"read failure", "line", park.Ready, errors.New("db locked"), OutcomeNotSatisfied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := lineAndBuffer()
			reg.listErr = tt.listErr
			c := NewCheckExecutor(reg)

			res := c.Execute(context.Background(), checkNode("c1", tt.group, tt.state), discardReport)
			if res.Outcome != tt.want {
				t.Errorf("Execute() = %s (%v), want %s", res.Outcome, res.Err, tt.want)
			}
			if tt.listErr != nil && !errors.Is(res.Err, tt.listErr) {
				t.Errorf("Execute() err = %v, want annotation with %v", res.Err, tt.listErr)
			}
			if len(reg.setCalls()) != 0 {
				t.Error("check wrote to the registry")
			}
		})
	}
}

func TestCheck_MissingExpectedStateHalts(t *testing.T) {
	c := NewCheckExecutor(lineAndBuffer())
	node := Node{ID: "c1", Kind: KindCheck, Config: NodeConfig{Group: "line"}}

	res := c.Execute(context.Background(), node, discardReport)
	if res.Continue() || !errors.Is(res.Err, ErrInvalidNode) {
		t.Errorf("Execute() = %s (%v), want a halting ErrInvalidNode", res.Outcome, res.Err)
	}
}
