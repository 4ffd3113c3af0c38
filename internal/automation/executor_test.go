package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parkflow/parkflow-core/internal/park"
)

// ─── Stub Executor ──────────────────────────────────────────────────────────

// stubExecutor returns a fixed outcome per node id and records the order
// in which nodes ran.
type stubExecutor struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	ran      []string
	gate     map[string]chan struct{} // node id -> released when closed
	started  chan string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		outcomes: make(map[string]Outcome),
		gate:     make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (s *stubExecutor) Execute(ctx context.Context, node Node, report Report) Result {
	s.mu.Lock()
	s.ran = append(s.ran, node.ID)
	outcome, ok := s.outcomes[node.ID]
	gate := s.gate[node.ID]
	s.mu.Unlock()

	s.started <- node.ID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return cancelled(ctx.Err())
		}
	}

	report(LevelInfo, "ran "+node.ID, nil)
	if !ok {
		outcome = OutcomeSucceeded
	}
	return Result{Outcome: outcome}
}

func (s *stubExecutor) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ran...)
}

func stubExecutors(s *stubExecutor) map[Kind]NodeExecutor {
	return map[Kind]NodeExecutor{KindMove: s, KindSet: s, KindCheck: s}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestChain_DepthFirstEdgeOrder(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			setNode("a", "P", park.Ready),
			setNode("a1", "P", park.Ready),
			setNode("b", "P", park.Ready),
		},
		Edges: []Edge{edge("t", "a"), edge("t", "b"), edge("a", "a1")},
	}
	stub := newStubExecutor()
	steps := NewChainExecutor("f", g, stubExecutors(stub), nil).Run(context.Background(), "t")

	if got, want := stub.order(), []string{"a", "a1", "b"}; !equalStrings(got, want) {
		t.Errorf("execution order = %v, want %v", got, want)
	}
	if len(steps) != 3 {
		t.Errorf("steps = %d, want 3", len(steps))
	}
}

func TestChain_FailedCheckHaltsOnlyItsBranch(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			checkNode("check", "line", park.Ready),
			setNode("after-check", "P", park.Ready),
			setNode("sibling", "P", park.Ready),
		},
		Edges: []Edge{edge("t", "check"), edge("check", "after-check"), edge("t", "sibling")},
	}
	stub := newStubExecutor()
	stub.outcomes["check"] = OutcomeNotSatisfied

	NewChainExecutor("f", g, stubExecutors(stub), nil).Run(context.Background(), "t")

	if got, want := stub.order(), []string{"check", "sibling"}; !equalStrings(got, want) {
		t.Errorf("execution order = %v, want %v", got, want)
	}
}

func TestChain_CheckWithRealRegistry(t *testing.T) {
	reg := newMockRegistry(park.Park{Name: "L-01", Group: "line", State: park.Occupied})
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			checkNode("check", "line", park.Ready),
			setNode("s", "L-01", park.Available),
		},
		Edges: []Edge{edge("t", "check"), edge("check", "s")},
	}
	executors := map[Kind]NodeExecutor{KindCheck: NewCheckExecutor(reg), KindSet: NewSetExecutor(reg)}

	steps := NewChainExecutor("f", g, executors, nil).Run(context.Background(), "t")

	if len(steps) != 1 || steps[0].Result.Outcome != OutcomeNotSatisfied {
		t.Fatalf("steps = %+v, want a single unsatisfied check", steps)
	}
	if len(reg.setCalls()) != 0 {
		t.Error("descendant of a failed check executed")
	}
}

func TestChain_CycleRunsEachNodeOnce(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			setNode("a", "P", park.Ready),
			setNode("b", "P", park.Ready),
		},
		Edges: []Edge{edge("t", "a"), edge("a", "b"), edge("b", "a"), edge("b", "t")},
	}
	stub := newStubExecutor()
	NewChainExecutor("f", g, stubExecutors(stub), nil).Run(context.Background(), "t")

	if got, want := stub.order(), []string{"a", "b"}; !equalStrings(got, want) {
		t.Errorf("execution order = %v, want %v", got, want)
	}
}

func TestChain_OutcomeDecidesDescent(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    []string
	}{
		{OutcomeSucceeded, []string{"m", "s"}},
		{OutcomeFailed, []string{"m", "s"}},
		{OutcomeNotSatisfied, []string{"m"}},
		{OutcomeSkipped, []string{"m"}},
		{OutcomeCancelled, []string{"m"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			g := &Graph{
				Nodes: []Node{triggerNode("t", "io-1", "in_1"), moveNode("m", "a", "b"), setNode("s", "P", park.Ready)},
				Edges: []Edge{edge("t", "m"), edge("m", "s")},
			}
			stub := newStubExecutor()
			stub.outcomes["m"] = tt.outcome

			NewChainExecutor("f", g, stubExecutors(stub), nil).Run(context.Background(), "t")

			if got := stub.order(); !equalStrings(got, tt.want) {
				t.Errorf("execution order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChain_FailedSetContinues(t *testing.T) {
	reg := lineAndBuffer()
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			setNode("bad", "missing", park.Ready),
			setNode("next", "L-03", park.Available),
		},
		Edges: []Edge{edge("t", "bad"), edge("bad", "next")},
	}
	executors := map[Kind]NodeExecutor{KindSet: NewSetExecutor(reg)}

	steps := NewChainExecutor("f", g, executors, nil).Run(context.Background(), "t")

	if len(steps) != 2 {
		t.Fatalf("steps = %+v, want 2", steps)
	}
	if steps[0].Result.Outcome != OutcomeFailed || steps[1].Result.Outcome != OutcomeSucceeded {
		t.Errorf("outcomes = %s, %s, want failed then succeeded", steps[0].Result.Outcome, steps[1].Result.Outcome)
	}
	if got := reg.state("L-03"); got != park.Available {
		t.Errorf("L-03 state = %d, want 0", got)
	}
}

func TestChain_ExhaustedMoveContinues(t *testing.T) {
	reg := lineAndBuffer()
	disp := newMockDispatcher()
	disp.maxAttempts = 3
	disp.failures = 3
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			moveNode("m", "line", "buffer"),
			setNode("after", "L-03", park.Available),
		},
		Edges: []Edge{edge("t", "m"), edge("m", "after")},
	}
	executors := map[Kind]NodeExecutor{
		KindMove: NewMoveExecutor("f", reg, NewLockManager(), disp, DefaultParkStates()),
		KindSet:  NewSetExecutor(reg),
	}

	steps := NewChainExecutor("f", g, executors, nil).Run(context.Background(), "t")

	if len(steps) != 2 || steps[0].Result.Outcome != OutcomeFailed {
		t.Fatalf("steps = %+v, want a failed move followed by the set", steps)
	}
	if got := reg.state("L-03"); got != park.Available {
		t.Errorf("L-03 state = %d, want 0", got)
	}
	if got := reg.state("L-01"); got != park.Ready {
		t.Errorf("source state = %d, rejected order must not swap parks", got)
	}
}

func TestChain_NotReadyMoveHalts(t *testing.T) {
	reg := newMockRegistry(
		park.Park{Name: "L-01", Group: "line", State: park.Occupied},
		park.Park{Name: "B-01", Group: "buffer", State: park.Reserved},
	)
	g := &Graph{
		Nodes: []Node{
			triggerNode("t", "io-1", "in_1"),
			moveNode("m", "line", "buffer"),
			setNode("after", "B-01", park.Available),
		},
		Edges: []Edge{edge("t", "m"), edge("m", "after")},
	}
	executors := map[Kind]NodeExecutor{
		KindMove: NewMoveExecutor("f", reg, NewLockManager(), newMockDispatcher(), DefaultParkStates()),
		KindSet:  NewSetExecutor(reg),
	}

	steps := NewChainExecutor("f", g, executors, nil).Run(context.Background(), "t")

	if len(steps) != 1 || steps[0].Result.Outcome != OutcomeNotSatisfied {
		t.Fatalf("steps = %+v, want a single not-ready move", steps)
	}
	if len(reg.setCalls()) != 0 {
		t.Error("descendant of a not-ready move executed")
	}
}

func TestChain_UnconnectedMoveAndSetNeverRun(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			moveNode("m", "a", "b"),
			setNode("s", "P", park.Ready),
			checkNode("c", "line", park.Ready),
		},
	}
	stub := newStubExecutor()
	exec := NewChainExecutor("f", g, stubExecutors(stub), nil)

	for _, id := range []string{"m", "s"} {
		steps := exec.Run(context.Background(), id)
		if len(steps) != 1 || steps[0].Result.Outcome != OutcomeSkipped {
			t.Errorf("Run(%s) steps = %+v, want skipped", id, steps)
		}
	}
	exec.Run(context.Background(), "c")

	if got := stub.order(); !equalStrings(got, []string{"c"}) {
		t.Errorf("executed = %v, want only the check node", got)
	}
}

func TestChain_InFlightNodeIsSkipped(t *testing.T) {
	g := &Graph{
		Nodes: []Node{triggerNode("t", "io-1", "in_1"), moveNode("m", "a", "b")},
		Edges: []Edge{edge("t", "m")},
	}
	stub := newStubExecutor()
	stub.gate["m"] = make(chan struct{})
	console := &consoleRecorder{}
	exec := NewChainExecutor("f", g, stubExecutors(stub), console)

	first := make(chan []Step, 1)
	go func() { first <- exec.Run(context.Background(), "t") }()
	<-stub.started

	if got := exec.InFlight(); !equalStrings(got, []string{"m"}) {
		t.Errorf("InFlight() = %v, want [m]", got)
	}

	second := exec.Run(context.Background(), "t")
	if len(second) != 1 || second[0].Result.Outcome != OutcomeSkipped {
		t.Errorf("second activation steps = %+v, want skipped", second)
	}
	if console.count(LevelWarning) != 1 {
		t.Errorf("warnings = %d, want 1", console.count(LevelWarning))
	}

	close(stub.gate["m"])
	select {
	case steps := <-first:
		if steps[0].Result.Outcome != OutcomeSucceeded {
			t.Errorf("first activation = %s, want succeeded", steps[0].Result.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("first activation did not finish")
	}
	if got := exec.InFlight(); len(got) != 0 {
		t.Errorf("InFlight() after finish = %v", got)
	}
}

func TestChain_CancelledContextStopsDescent(t *testing.T) {
	g := &Graph{
		Nodes: []Node{triggerNode("t", "io-1", "in_1"), setNode("a", "P", park.Ready), setNode("b", "P", park.Ready)},
		Edges: []Edge{edge("t", "a"), edge("a", "b")},
	}
	stub := newStubExecutor()
	stub.gate["a"] = make(chan struct{})
	exec := NewChainExecutor("f", g, stubExecutors(stub), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []Step, 1)
	go func() { done <- exec.Run(ctx, "t") }()
	<-stub.started
	cancel()

	steps := <-done
	if len(steps) != 1 || steps[0].Result.Outcome != OutcomeCancelled {
		t.Errorf("steps = %+v, want only a cancelled first node", steps)
	}
}

func TestChain_ConsoleEntriesAreNodeScoped(t *testing.T) {
	g := &Graph{
		Nodes: []Node{triggerNode("t", "io-1", "in_1"), setNode("a", "P", park.Ready)},
		Edges: []Edge{edge("t", "a")},
	}
	console := &consoleRecorder{}
	NewChainExecutor("flow-9", g, stubExecutors(newStubExecutor()), console).Run(context.Background(), "t")

	entries := console.all()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.FlowID != "flow-9" || e.NodeID != "a" || e.Time.IsZero() || e.Message != "ran a" {
		t.Errorf("entry = %+v", e)
	}
}
