package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/parkflow/parkflow-core/internal/dispatch"
	"github.com/parkflow/parkflow-core/internal/park"
	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// ─── Mock Park Registry ─────────────────────────────────────────────────────

type setCall struct {
	Name  string
	State park.State
}

// mockRegistry is an in-memory park registry.
type mockRegistry struct {
	mu      sync.Mutex
	parks   map[string]park.Park
	listErr error
	setErr  map[string]error
	sets    []setCall
}

func newMockRegistry(parks ...park.Park) *mockRegistry {
	m := &mockRegistry{parks: make(map[string]park.Park), setErr: make(map[string]error)}
	for _, p := range parks {
		m.parks[p.Name] = p
	}
	return m
}

func (m *mockRegistry) List(_ context.Context, group string) ([]park.Park, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []park.Park
	for _, p := range m.parks {
		if group == "" || p.Group == group {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRegistry) SetState(_ context.Context, name string, state park.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = append(m.sets, setCall{Name: name, State: state})
	if err := m.setErr[name]; err != nil {
		return err
	}
	p, ok := m.parks[name]
	if !ok {
		return park.ErrNotFound
	}
	p.State = state
	m.parks[name] = p
	return nil
}

func (m *mockRegistry) state(name string) park.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parks[name].State
}

func (m *mockRegistry) setCalls() []setCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]setCall(nil), m.sets...)
}

// ─── Mock Dispatcher ────────────────────────────────────────────────────────

// mockDispatcher accepts orders after a configurable number of failures.
type mockDispatcher struct {
	mu          sync.Mutex
	failures    int   // attempts that fail before one succeeds
	failErr     error // error of a failed attempt, a transport error when nil
	maxAttempts int
	retryDelay  time.Duration
	idleErr     error
	idleGate    chan struct{} // when set, WaitIdle blocks until closed
	submitted   []dispatch.Order
	nextID      int
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{maxAttempts: 100}
}

func (d *mockDispatcher) NewOrder(source, destination string) dispatch.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return dispatch.Order{ID: strconv.Itoa(d.nextID), Source: source, Destination: destination}
}

func (d *mockDispatcher) WaitIdle(ctx context.Context, _ dispatch.AttemptFunc) (int, error) {
	if d.idleGate != nil {
		select {
		case <-d.idleGate:
		case <-ctx.Done():
			return 1, ctx.Err()
		}
	}
	if d.idleErr != nil {
		return 1, d.idleErr
	}
	return 1, ctx.Err()
}

func (d *mockDispatcher) SubmitWithRetry(ctx context.Context, order dispatch.Order, onFail dispatch.AttemptFunc) (int, error) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if attempt <= d.failures {
			if onFail != nil {
				err := d.failErr
				if err == nil {
					err = errors.New("connection refused")
				}
				onFail(attempt, err)
			}
			if attempt < d.maxAttempts {
				select {
				case <-ctx.Done():
					return attempt, ctx.Err()
				case <-time.After(d.retryDelay):
				}
			}
			continue
		}
		d.mu.Lock()
		d.submitted = append(d.submitted, order)
		d.mu.Unlock()
		return attempt, nil
	}
	return d.maxAttempts, fmt.Errorf("order %s not accepted: %w", order.ID, dispatch.ErrRejected)
}

func (d *mockDispatcher) MaxAttempts() int { return d.maxAttempts }

func (d *mockDispatcher) orders() []dispatch.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Order(nil), d.submitted...)
}

// ─── Mock Point Reader ──────────────────────────────────────────────────────

type pointKey struct {
	device string
	point  string
}

// mockPoints serves point values from per-point sequences. The last value
// of a sequence repeats once it is exhausted.
type mockPoints struct {
	mu     sync.Mutex
	seq    map[pointKey][]bool
	errs   map[pointKey][]error
	reads  map[pointKey]int
	values map[pointKey]bool
}

func newMockPoints() *mockPoints {
	return &mockPoints{
		seq:    make(map[pointKey][]bool),
		errs:   make(map[pointKey][]error),
		reads:  make(map[pointKey]int),
		values: make(map[pointKey]bool),
	}
}

func (m *mockPoints) sequence(device, point string, values ...bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[pointKey{device, point}] = values
}

func (m *mockPoints) set(device, point string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pointKey{device, point}
	delete(m.seq, k)
	m.values[k] = v
}

func (m *mockPoints) ReadPoint(_ context.Context, device string, p pointcache.Point) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pointKey{device, p.String()}
	i := m.reads[k]
	m.reads[k]++

	if errs := m.errs[k]; i < len(errs) && errs[i] != nil {
		return false, errs[i]
	}
	if seq, ok := m.seq[k]; ok && len(seq) > 0 {
		if i >= len(seq) {
			i = len(seq) - 1
		}
		return seq[i], nil
	}
	return m.values[k], nil
}

// ─── Console Recorder ───────────────────────────────────────────────────────

type consoleRecorder struct {
	mu      sync.Mutex
	entries []ConsoleEntry
}

func (c *consoleRecorder) Emit(_ context.Context, e ConsoleEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *consoleRecorder) all() []ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConsoleEntry(nil), c.entries...)
}

func (c *consoleRecorder) count(level Level) int {
	n := 0
	for _, e := range c.all() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func statePtr(s park.State) *park.State { return &s }

func discardReport(Level, string, map[string]any) {}

func moveNode(id, from, to string) Node {
	return Node{ID: id, Kind: KindMove, Config: NodeConfig{SourceGroup: from, DestinationGroup: to}}
}

func setNode(id, name string, s park.State) Node {
	return Node{ID: id, Kind: KindSet, Config: NodeConfig{LocationName: name, TargetState: statePtr(s)}}
}

func checkNode(id, group string, s park.State) Node {
	return Node{ID: id, Kind: KindCheck, Config: NodeConfig{Group: group, ExpectedState: statePtr(s)}}
}

func triggerNode(id, device, point string) Node {
	return Node{ID: id, Kind: KindTrigger, Config: NodeConfig{DeviceID: device, PointAddress: point}}
}

func edge(from, to string) Edge {
	return Edge{ID: from + "->" + to, Source: from, Target: to}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
