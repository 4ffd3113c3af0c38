// Package automation provides the flow engine for parkflow.
//
// A flow is a graph of trigger, move, set and check nodes. Trigger nodes
// watch a digital point in the point cache; when the point moves onto the
// trigger value, the chain below the trigger runs depth-first.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Runner (runner.go)                    │
//	│  Start / Stop / Status, one flow at a time             │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │ TriggerPoller│───▶│ChainExecutor │                 │
//	│  │ (trigger.go) │    │(executor.go) │                 │
//	│  └──────────────┘    └──────────────┘                 │
//	│        ▲                    │                         │
//	│        │                    ▼                         │
//	│  point cache        ┌──────────────────────────┐      │
//	│  (Syncer loop)      │ Node executors (nodes.go) │      │
//	│                     │  move: LockManager +      │      │
//	│                     │        dispatch client    │      │
//	│                     │  set / check: park reg.   │      │
//	│                     └──────────────────────────┘      │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Graph, Node, Edge: the flow as pure data, persisted by Repository
//   - TriggerPoller: edge detection with an explicit node -> last value map
//   - ChainExecutor: depth-first walk with a per-run visited set
//   - MoveExecutor, SetExecutor, CheckExecutor: node actions returning Result
//   - LockManager: FIFO selection and submission locks plus the reservation set
//   - Runner: the flow lifecycle; cancelling its context stops everything
//
// # Thread Safety
//
// Runner, ChainExecutor, TriggerPoller and LockManager are safe for
// concurrent use. Chains started by different trigger activations run
// concurrently; the lock manager keeps them from double-booking parks.
//
// # Usage
//
//	runner := automation.NewRunner(automation.RunnerConfig{
//	    TriggerInterval: 2 * time.Second,
//	    States:          automation.DefaultParkStates(),
//	}, automation.RunnerDeps{
//	    Flows:      automation.NewSQLiteRepository(db),
//	    Parks:      parks,
//	    Points:     points,
//	    Syncer:     syncer,
//	    Devices:    cfg.Fieldbus.Devices,
//	    Dispatcher: dispatchClient,
//	})
//	runner.SetLogger(log)
//
//	if err := runner.Start(ctx, "default"); err != nil {
//	    return err
//	}
//	defer runner.Stop(context.Background())
package automation
