package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/parkflow/parkflow-core/internal/dispatch"
	"github.com/parkflow/parkflow-core/internal/park"
)

// confirmTimeout bounds the park updates made after an order is accepted.
const confirmTimeout = 10 * time.Second

// Dispatcher submits orders to the fleet. dispatch.Client satisfies it.
type Dispatcher interface {
	NewOrder(source, destination string) dispatch.Order
	WaitIdle(ctx context.Context, onBusy dispatch.AttemptFunc) (int, error)
	SubmitWithRetry(ctx context.Context, order dispatch.Order, onFail dispatch.AttemptFunc) (int, error)
	MaxAttempts() int
}

// ParkStates are the states a move selects on. A source park must be in
// Source and a destination park in Destination. Once the order is accepted
// the two parks swap: the source takes Destination and the destination
// takes Source.
type ParkStates struct {
	Source      park.State
	Destination park.State
}

// DefaultParkStates selects ready sources and destinations in state 1.
func DefaultParkStates() ParkStates {
	return ParkStates{Source: park.Ready, Destination: park.Reserved}
}

// logAttempt reports whether a retry attempt is worth a console line:
// the first, every fifth, and the last.
func logAttempt(attempt, last int) bool {
	return attempt == 1 || attempt%5 == 0 || attempt == last
}

// ─── Move ───────────────────────────────────────────────────────────────────

// MoveExecutor reserves a source and destination park and submits a
// transport order between them.
//
// Pipeline:
//  1. Under the selection lock, pick the first eligible unreserved park of
//     each group by name and reserve both
//  2. Under the submission lock, wait for an idle fleet, then submit with
//     bounded retries
//  3. On acceptance, swap the two parks' states (best effort)
//
// The reservation is dropped on every exit path.
type MoveExecutor struct {
	flowID     string
	parks      park.Registry
	locks      *LockManager
	dispatcher Dispatcher
	states     ParkStates
	orders     OrderRecorder
	logger     Logger
	now        func() time.Time
}

// NewMoveExecutor creates a move executor.
func NewMoveExecutor(flowID string, parks park.Registry, locks *LockManager, dispatcher Dispatcher, states ParkStates) *MoveExecutor {
	return &MoveExecutor{
		flowID:     flowID,
		parks:      parks,
		locks:      locks,
		dispatcher: dispatcher,
		states:     states,
		orders:     OrderRecorders(nil),
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the executor.
func (m *MoveExecutor) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetOrderRecorder sets where order outcomes are recorded.
func (m *MoveExecutor) SetOrderRecorder(r OrderRecorder) {
	if r != nil {
		m.orders = r
	}
}

// Execute implements NodeExecutor.
func (m *MoveExecutor) Execute(ctx context.Context, node Node, report Report) Result {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	cfg := node.Config.Move()

	source, destination, res, ok := m.reserve(ctx, cfg, report)
	if !ok {
		return res
	}
	defer m.locks.Release(source, destination)

	report(LevelInfo, fmt.Sprintf("reserved %s -> %s", source, destination),
		map[string]any{"source": source, "destination": destination})

	release, err := m.locks.AcquireSubmission(ctx)
	if err != nil {
		report(LevelWarning, "stopped while waiting to submit", nil)
		return cancelled(err)
	}
	defer release()

	_, err = m.dispatcher.WaitIdle(ctx, func(check int, busy error) {
		if logAttempt(check, 0) {
			report(LevelInfo, fmt.Sprintf("waiting for an idle fleet (check %d): %v", check, busy), nil)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			report(LevelWarning, "stopped while waiting for an idle fleet", nil)
			return cancelled(ctx.Err())
		}
		report(LevelError, "fleet did not become idle: "+err.Error(), nil)
		return failed(err)
	}

	return m.submit(ctx, node.ID, source, destination, report)
}

func (m *MoveExecutor) reserve(ctx context.Context, cfg MoveConfig, report Report) (source, destination string, res Result, ok bool) {
	release, err := m.locks.AcquireSelection(ctx)
	if err != nil {
		return "", "", cancelled(err), false
	}
	defer release()

	sources, err := m.parks.List(ctx, cfg.SourceGroup)
	if err != nil {
		return "", "", m.listFailed(ctx, cfg.SourceGroup, err, report), false
	}
	destinations, err := m.parks.List(ctx, cfg.DestinationGroup)
	if err != nil {
		return "", "", m.listFailed(ctx, cfg.DestinationGroup, err, report), false
	}

	source = m.pick(sources, m.states.Source, "")
	destination = m.pick(destinations, m.states.Destination, source)
	if source == "" || destination == "" {
		report(LevelWarning, fmt.Sprintf("not ready: source group %q has %s, destination group %q has %s",
			cfg.SourceGroup, describePick(source, m.states.Source),
			cfg.DestinationGroup, describePick(destination, m.states.Destination)),
			map[string]any{"source": source, "destination": destination})
		return "", "", notSatisfied(ErrNotReady), false
	}

	if !m.locks.Reserve(source, destination) {
		report(LevelWarning, "not ready: selected parks were reserved concurrently", nil)
		return "", "", notSatisfied(ErrNotReady), false
	}
	return source, destination, Result{}, true
}

func (m *MoveExecutor) listFailed(ctx context.Context, group string, err error, report Report) Result {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	report(LevelError, fmt.Sprintf("reading parks of group %q failed: %v", group, err), nil)
	return failed(fmt.Errorf("listing group %s: %w", group, err))
}

// pick returns the first park by name in state that is neither reserved nor exclude.
func (m *MoveExecutor) pick(parks []park.Park, state park.State, exclude string) string {
	sorted := make([]park.Park, len(parks))
	copy(sorted, parks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, p := range sorted {
		if p.State != state || p.Name == exclude || m.locks.IsReserved(p.Name) {
			continue
		}
		return p.Name
	}
	return ""
}

// attemptFailure tells a refusal by the dispatch service from a request
// that never got an answer.
func attemptFailure(err error) string {
	if dispatch.IsRejected(err) {
		return "rejected by the dispatch service"
	}
	return "did not reach the dispatch service"
}

func describePick(name string, state park.State) string {
	if name == "" {
		return fmt.Sprintf("no unreserved park in state %d", int(state))
	}
	return name
}

func (m *MoveExecutor) submit(ctx context.Context, nodeID, source, destination string, report Report) Result {
	order := m.dispatcher.NewOrder(source, destination)
	last := m.dispatcher.MaxAttempts()
	report(LevelInfo, fmt.Sprintf("submitting order %s: %s -> %s", order.ID, source, destination),
		map[string]any{"order_id": order.ID})

	started := m.now()
	attempts, err := m.dispatcher.SubmitWithRetry(ctx, order, func(attempt int, err error) {
		if logAttempt(attempt, last) {
			report(LevelWarning, fmt.Sprintf("order %s attempt %d/%d %s: %v", order.ID, attempt, last, attemptFailure(err), err),
				map[string]any{"rejected": dispatch.IsRejected(err)})
		}
	})

	rec := OrderRecord{
		FlowID:      m.flowID,
		NodeID:      nodeID,
		OrderID:     order.ID,
		Source:      source,
		Destination: destination,
		Attempts:    attempts,
		Duration:    m.now().Sub(started),
		Err:         err,
	}

	switch {
	case err == nil:
		rec.Outcome = OutcomeSucceeded
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		rec.Outcome = OutcomeCancelled
	default:
		rec.Outcome = OutcomeFailed
	}
	m.orders.RecordOrder(ctx, rec)

	switch rec.Outcome {
	case OutcomeCancelled:
		report(LevelWarning, fmt.Sprintf("order %s abandoned after %d attempt(s): flow stopped", order.ID, attempts), nil)
		return cancelled(err)
	case OutcomeFailed:
		report(LevelError, fmt.Sprintf("order %s not accepted after %d attempt(s): %v", order.ID, attempts, err), nil)
		m.logger.Error("order submission exhausted", "order_id", order.ID, "attempts", attempts, "error", err)
		return failed(err)
	}

	report(LevelSuccess, fmt.Sprintf("order %s accepted after %d attempt(s)", order.ID, attempts),
		map[string]any{"order_id": order.ID, "attempts": attempts})
	m.logger.Info("order accepted", "order_id", order.ID, "source", source, "destination", destination, "attempts", attempts)

	m.confirm(ctx, source, destination, report)
	return succeeded()
}

// confirm swaps the park states after an accepted order. The order stands
// even if an update fails, so failures are only reported.
func (m *MoveExecutor) confirm(ctx context.Context, source, destination string, report Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()

	updates := []struct {
		name  string
		state park.State
	}{
		{source, m.states.Destination},
		{destination, m.states.Source},
	}
	for _, u := range updates {
		if err := m.parks.SetState(ctx, u.name, u.state); err != nil {
			report(LevelWarning, fmt.Sprintf("updating %s to %s failed: %v", u.name, u.state, err), nil)
			m.logger.Warn("park update after order failed", "park", u.name, "state", int(u.state), "error", err)
			continue
		}
		report(LevelInfo, fmt.Sprintf("%s is now %s (%d)", u.name, u.state, int(u.state)), nil)
	}
}

// ─── Set ────────────────────────────────────────────────────────────────────

// SetExecutor writes one park's state. Writing the current state again succeeds.
type SetExecutor struct {
	parks park.Registry
}

// NewSetExecutor creates a set executor.
func NewSetExecutor(parks park.Registry) *SetExecutor {
	return &SetExecutor{parks: parks}
}

// Execute implements NodeExecutor.
func (s *SetExecutor) Execute(ctx context.Context, node Node, report Report) Result {
	cfg := node.Config.Set()
	if cfg.TargetState == nil {
		err := fmt.Errorf("%w: %s has no target state", ErrInvalidNode, node.ID)
		report(LevelError, err.Error(), nil)
		return failed(err)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	target := *cfg.TargetState
	if err := s.parks.SetState(ctx, cfg.LocationName, target); err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		report(LevelError, fmt.Sprintf("setting %s to %s failed: %v", cfg.LocationName, target, err), nil)
		return failed(err)
	}

	report(LevelSuccess, fmt.Sprintf("%s set to %s (%d)", cfg.LocationName, target, int(target)),
		map[string]any{"park": cfg.LocationName, "state": int(target)})
	return succeeded()
}

// ─── Check ──────────────────────────────────────────────────────────────────

// CheckExecutor passes when at least one park of a group is in the expected state.
type CheckExecutor struct {
	parks park.Registry
}

// NewCheckExecutor creates a check executor.
func NewCheckExecutor(parks park.Registry) *CheckExecutor {
	return &CheckExecutor{parks: parks}
}

// Execute implements NodeExecutor. A failed read counts as not satisfied.
func (c *CheckExecutor) Execute(ctx context.Context, node Node, report Report) Result {
	cfg := node.Config.Check()
	if cfg.ExpectedState == nil {
		err := fmt.Errorf("%w: %s has no expected state", ErrInvalidNode, node.ID)
		report(LevelError, err.Error(), nil)
		return notSatisfied(err)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	expected := *cfg.ExpectedState
	parks, err := c.parks.List(ctx, cfg.Group)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		report(LevelError, fmt.Sprintf("reading group %q failed: %v", cfg.Group, err), nil)
		return notSatisfied(fmt.Errorf("reading group %s: %w", cfg.Group, err))
	}

	var matches []string
	for _, p := range parks {
		if p.State == expected {
			matches = append(matches, p.Name)
		}
	}

	if len(matches) == 0 {
		report(LevelWarning, fmt.Sprintf("no park in group %q is %s (%d)", cfg.Group, expected, int(expected)),
			map[string]any{"group": cfg.Group, "state": int(expected)})
		return notSatisfied(ErrCheckNotSatisfied)
	}

	report(LevelSuccess, fmt.Sprintf("%d park(s) in group %q are %s (%d)", len(matches), cfg.Group, expected, int(expected)),
		map[string]any{"group": cfg.Group, "state": int(expected), "parks": matches})
	return succeeded()
}
