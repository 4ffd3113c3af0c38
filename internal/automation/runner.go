package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parkflow/parkflow-core/internal/fieldbus"
	"github.com/parkflow/parkflow-core/internal/park"
)

// DeviceSyncer mirrors device points into the point cache until ctx is
// cancelled. pointcache.Syncer satisfies it.
type DeviceSyncer interface {
	Run(ctx context.Context, devices []fieldbus.Device) error
}

// RunnerConfig holds the runner settings.
type RunnerConfig struct {
	TriggerInterval time.Duration
	States          ParkStates
}

// RunnerDeps are the collaborators a flow run needs.
type RunnerDeps struct {
	Flows      Repository
	Parks      park.Registry
	Points     PointReader
	Syncer     DeviceSyncer // may be nil
	Devices    []fieldbus.Device
	Dispatcher Dispatcher
	Locks      *LockManager
	Console    ConsoleSink   // may be nil
	Orders     OrderRecorder // may be nil
}

// Runner owns the lifecycle of the running flow: at most one flow runs at a time.
//
// Start loads and validates the graph, then runs the trigger poller and the
// point cache sync for the devices the triggers watch. Every trigger edge
// starts a chain in its own goroutine. Stop cancels the run, which is the
// single cancellation signal for every loop, wait and retry in it, and
// returns once they have all unwound.
//
// Thread Safety: all methods are safe for concurrent use.
type Runner struct {
	cfg     RunnerConfig
	deps    RunnerDeps
	devices map[string]fieldbus.Device
	logger  Logger
	now     func() time.Time

	statusMu sync.Mutex
	onStatus []func(RunStatus)

	mu  sync.Mutex
	run *activeRun
}

type activeRun struct {
	flowID    string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	poller    *TriggerPoller
	chains    *ChainExecutor
	wg        sync.WaitGroup // in-flight chain activations
}

// NewRunner creates a stopped runner.
func NewRunner(cfg RunnerConfig, deps RunnerDeps) *Runner {
	if deps.Locks == nil {
		deps.Locks = NewLockManager()
	}
	if deps.Console == nil {
		deps.Console = discardSink{}
	}
	if deps.Orders == nil {
		deps.Orders = OrderRecorders(nil)
	}

	devices := make(map[string]fieldbus.Device, len(deps.Devices))
	for _, d := range deps.Devices {
		devices[d.ID] = d
	}

	return &Runner{
		cfg:     cfg,
		deps:    deps,
		devices: devices,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the runner and the components it creates.
func (r *Runner) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// OnStatus registers a callback invoked after every start and stop.
func (r *Runner) OnStatus(fn func(RunStatus)) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	r.onStatus = append(r.onStatus, fn)
}

// Locks returns the lock manager shared by every run.
func (r *Runner) Locks() *LockManager {
	return r.deps.Locks
}

// Start runs flowID. The run outlives ctx; only Stop ends it.
// It returns ErrAlreadyRunning if a flow is running and a *ValidationError
// if the graph is incomplete.
func (r *Runner) Start(ctx context.Context, flowID string) error {
	if flowID == "" {
		return ErrInvalidFlowID
	}

	status, err := r.start(ctx, flowID)
	if err != nil {
		return err
	}
	r.emit(ctx, flowID, LevelInfo, "flow started")
	r.notify(status)
	return nil
}

func (r *Runner) start(ctx context.Context, flowID string) (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != nil {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, r.run.flowID)
	}

	g, err := r.deps.Flows.Load(ctx, flowID)
	if err != nil {
		return RunStatus{}, fmt.Errorf("loading flow %s: %w", flowID, err)
	}
	if err := ValidateGraph(g); err != nil {
		return RunStatus{}, err
	}
	triggers, devices, err := r.bindTriggers(g)
	if err != nil {
		return RunStatus{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &activeRun{
		flowID:    flowID,
		startedAt: r.now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	run.chains = NewChainExecutor(flowID, g, r.executors(flowID), r.deps.Console)
	run.chains.SetLogger(r.logger)
	run.poller = NewTriggerPoller(r.deps.Points, triggers, r.cfg.TriggerInterval, func(ctx context.Context, t Trigger, previous, current int) {
		r.activate(ctx, run, t, previous, current)
	})
	run.poller.SetLogger(r.logger)

	loops, loopCtx := errgroup.WithContext(runCtx)
	loops.Go(func() error { return run.poller.Run(loopCtx) })
	if r.deps.Syncer != nil && len(devices) > 0 {
		loops.Go(func() error { return r.deps.Syncer.Run(loopCtx, devices) })
	}

	go func() {
		defer close(run.done)
		if err := loops.Wait(); err != nil {
			r.logger.Error("flow loop stopped", "flow_id", flowID, "error", err)
		}
		// Chains are only started by the poller, which has returned.
		run.wg.Wait()
	}()

	r.run = run
	r.logger.Info("flow started", "flow_id", flowID, "triggers", len(triggers), "devices", len(devices))
	return r.statusLocked(), nil
}

// Stop cancels the running flow and waits for it to unwind. Stopping a
// stopped runner is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()

	if run == nil {
		return nil
	}

	run.cancel()
	select {
	case <-run.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for flow %s to stop: %w", run.flowID, ctx.Err())
	}

	r.mu.Lock()
	if r.run == run {
		r.run = nil
	}
	status := r.statusLocked()
	r.mu.Unlock()

	r.logger.Info("flow stopped", "flow_id", run.flowID)
	r.emit(ctx, run.flowID, LevelInfo, "flow stopped")
	r.notify(status)
	return nil
}

// Status reports whether a flow is running and what it is doing.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runner) statusLocked() RunStatus {
	st := RunStatus{Reserved: r.deps.Locks.Reserved()}
	if r.run == nil {
		return st
	}
	started := r.run.startedAt
	st.Running = true
	st.FlowID = r.run.flowID
	st.StartedAt = &started
	st.Triggers = r.run.poller.Values()
	st.InFlight = r.run.chains.InFlight()
	return st
}

// IsRunning reports whether flowID is the running flow.
func (r *Runner) IsRunning(flowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run != nil && r.run.flowID == flowID
}

// activate starts one chain from a fired trigger.
func (r *Runner) activate(ctx context.Context, run *activeRun, t Trigger, previous, current int) {
	r.deps.Console.Emit(ctx, ConsoleEntry{
		Time:    r.now().UTC(),
		FlowID:  run.flowID,
		NodeID:  t.NodeID,
		Level:   LevelTrigger,
		Message: fmt.Sprintf("triggered: %s %s = %d (was %d)", t.DeviceID, t.Point, current, previous),
		Details: map[string]any{"device": t.DeviceID, "point": t.Point.String(), "value": current, "previous": previous},
	})

	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		steps := run.chains.Run(ctx, t.NodeID)
		if ctx.Err() != nil {
			return
		}
		r.deps.Console.Emit(ctx, ConsoleEntry{
			Time:    r.now().UTC(),
			FlowID:  run.flowID,
			NodeID:  t.NodeID,
			Level:   LevelSuccess,
			Message: fmt.Sprintf("chain finished: %d node(s) reached", len(steps)),
		})
	}()
}

func (r *Runner) executors(flowID string) map[Kind]NodeExecutor {
	move := NewMoveExecutor(flowID, r.deps.Parks, r.deps.Locks, r.deps.Dispatcher, r.cfg.States)
	move.SetLogger(r.logger)
	move.SetOrderRecorder(r.deps.Orders)

	return map[Kind]NodeExecutor{
		KindMove:  move,
		KindSet:   NewSetExecutor(r.deps.Parks),
		KindCheck: NewCheckExecutor(r.deps.Parks),
	}
}

// bindTriggers resolves every trigger to its point and device. A trigger
// naming an unconfigured device is a configuration error.
func (r *Runner) bindTriggers(g *Graph) ([]Trigger, []fieldbus.Device, error) {
	var (
		triggers []Trigger
		devices  []fieldbus.Device
		problems []string
	)
	seen := make(map[string]bool)

	for _, n := range g.Nodes {
		if n.Kind != KindTrigger {
			continue
		}
		t, err := TriggerFromNode(n)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		dev, ok := r.devices[t.DeviceID]
		if !ok {
			problems = append(problems, fmt.Sprintf("trigger node %q: unknown device %q", n.ID, t.DeviceID))
			continue
		}
		triggers = append(triggers, t)
		if !seen[dev.ID] {
			seen[dev.ID] = true
			devices = append(devices, dev)
		}
	}

	if len(problems) > 0 {
		return nil, nil, &ValidationError{Problems: problems}
	}
	sortTriggers(triggers)
	return triggers, devices, nil
}

func (r *Runner) emit(ctx context.Context, flowID string, level Level, message string) {
	r.deps.Console.Emit(ctx, ConsoleEntry{Time: r.now().UTC(), FlowID: flowID, Level: level, Message: message})
}

func (r *Runner) notify(st RunStatus) {
	r.statusMu.Lock()
	hooks := slices.Clone(r.onStatus)
	r.statusMu.Unlock()

	for _, fn := range hooks {
		fn(st)
	}
}
