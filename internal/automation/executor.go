package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeExecutor runs the action of one node kind.
// It never panics and reports failure through the Result.
type NodeExecutor interface {
	Execute(ctx context.Context, node Node, report Report) Result
}

// graphIndex is the lookup form of a Graph used during traversal.
type graphIndex struct {
	nodes    map[string]Node
	out      map[string][]string // node id -> target ids, in edge order
	incoming map[string]bool
}

func newGraphIndex(g *Graph) *graphIndex {
	idx := &graphIndex{
		nodes:    make(map[string]Node, len(g.Nodes)),
		out:      make(map[string][]string),
		incoming: make(map[string]bool),
	}
	for _, n := range g.Nodes {
		idx.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		idx.out[e.Source] = append(idx.out[e.Source], e.Target)
		idx.incoming[e.Target] = true
	}
	return idx
}

// ChainExecutor walks a flow graph depth-first from an activated node.
//
// Each node's action completes before its successors start, and successors
// are visited in edge order. A node runs at most once per activation, so
// cycles terminate. Only a succeeded node lets the walk continue past it.
// Move and set nodes with no incoming edge never run.
//
// Concurrent activations share one executor. A node that is still running
// for another activation is skipped rather than run twice at once.
//
// Thread Safety: Run is safe for concurrent use.
type ChainExecutor struct {
	flowID    string
	idx       *graphIndex
	executors map[Kind]NodeExecutor
	console   ConsoleSink
	logger    Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewChainExecutor creates an executor for one flow graph.
//
// Parameters:
//   - flowID: Flow identifier stamped on console entries
//   - g: The graph to walk (not modified)
//   - executors: Action per node kind (trigger needs none)
//   - console: Operator console sink (may be nil)
func NewChainExecutor(flowID string, g *Graph, executors map[Kind]NodeExecutor, console ConsoleSink) *ChainExecutor {
	if console == nil {
		console = discardSink{}
	}
	return &ChainExecutor{
		flowID:    flowID,
		idx:       newGraphIndex(g),
		executors: executors,
		console:   console,
		logger:    noopLogger{},
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the executor.
func (e *ChainExecutor) SetLogger(l Logger) {
	if l != nil {
		e.logger = l
	}
}

// Run executes the chain rooted at startID and returns one step per node
// reached, in execution order. It stops descending once ctx is cancelled.
func (e *ChainExecutor) Run(ctx context.Context, startID string) []Step {
	visited := make(map[string]struct{})
	var steps []Step
	e.visit(ctx, startID, visited, &steps)
	return steps
}

func (e *ChainExecutor) visit(ctx context.Context, id string, visited map[string]struct{}, steps *[]Step) {
	if ctx.Err() != nil {
		return
	}
	if _, seen := visited[id]; seen {
		return
	}
	visited[id] = struct{}{}

	node, ok := e.idx.nodes[id]
	if !ok {
		return
	}

	if node.Kind != KindTrigger {
		res := e.execute(ctx, node)
		*steps = append(*steps, Step{NodeID: id, Kind: node.Kind, Result: res})
		if !res.Continue() {
			return
		}
	}

	for _, next := range e.idx.out[id] {
		e.visit(ctx, next, visited, steps)
	}
}

func (e *ChainExecutor) execute(ctx context.Context, node Node) Result {
	if (node.Kind == KindMove || node.Kind == KindSet) && !e.idx.incoming[node.ID] {
		e.logger.Debug("skipping unconnected node", "flow_id", e.flowID, "node_id", node.ID)
		return skipped()
	}

	if !e.enter(node.ID) {
		e.emit(ctx, node.ID, LevelWarning, "node is already running, skipped", nil)
		return skipped()
	}
	defer e.leave(node.ID)

	exec, ok := e.executors[node.Kind]
	if !ok {
		err := fmt.Errorf("no executor for %s nodes", node.Kind)
		e.emit(ctx, node.ID, LevelError, err.Error(), nil)
		return failed(err)
	}

	report := func(level Level, message string, details map[string]any) {
		e.emit(ctx, node.ID, level, message, details)
	}
	res := exec.Execute(ctx, node, report)

	e.logger.Debug("node executed",
		"flow_id", e.flowID,
		"node_id", node.ID,
		"kind", string(node.Kind),
		"outcome", string(res.Outcome),
	)
	return res
}

func (e *ChainExecutor) enter(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *ChainExecutor) leave(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

// InFlight returns the ids of nodes currently executing, sorted.
func (e *ChainExecutor) InFlight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.inFlight))
	for id := range e.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *ChainExecutor) emit(ctx context.Context, nodeID string, level Level, message string, details map[string]any) {
	e.console.Emit(ctx, ConsoleEntry{
		Time:    e.now().UTC(),
		FlowID:  e.flowID,
		NodeID:  nodeID,
		Level:   level,
		Message: message,
		Details: details,
	})
}
