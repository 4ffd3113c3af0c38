package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// DefaultTriggerInterval is how often trigger points are sampled.
const DefaultTriggerInterval = 2 * time.Second

// PointReader reads one cached point. pointcache.Store satisfies it.
type PointReader interface {
	ReadPoint(ctx context.Context, device string, p pointcache.Point) (bool, error)
}

// Trigger is a trigger node bound to the point it watches.
type Trigger struct {
	NodeID   string
	DeviceID string
	Point    pointcache.Point
	Value    int // 0 or 1
}

// TriggerFromNode binds a trigger node. The node must be a valid trigger.
func TriggerFromNode(n Node) (Trigger, error) {
	if n.Kind != KindTrigger {
		return Trigger{}, fmt.Errorf("%w: node %q is a %s node", ErrInvalidNode, n.ID, n.Kind)
	}
	cfg := n.Config.Trigger()
	p, err := pointcache.ParsePoint(cfg.PointAddress)
	if err != nil {
		return Trigger{}, fmt.Errorf("%w: trigger %q: %w", ErrInvalidNode, n.ID, err)
	}
	if cfg.TriggerValue != 0 && cfg.TriggerValue != 1 {
		return Trigger{}, fmt.Errorf("%w: trigger %q: value must be 0 or 1", ErrInvalidNode, n.ID)
	}
	return Trigger{NodeID: n.ID, DeviceID: cfg.DeviceID, Point: p, Value: int(cfg.TriggerValue)}, nil
}

// FireFunc is called when a trigger's point moves onto its trigger value.
type FireFunc func(ctx context.Context, t Trigger, previous, current int)

// TriggerPoller samples trigger points and fires on edges.
//
// A trigger fires when the value read equals its trigger value and the
// previous value did not. The first read of each trigger only records the
// value. A failed read is logged and leaves the previous value untouched.
//
// Thread Safety: Values may be called while Run is active.
type TriggerPoller struct {
	reader   PointReader
	triggers []Trigger
	interval time.Duration
	fire     FireFunc
	logger   Logger

	mu   sync.Mutex
	last map[string]int // node id -> last value read
}

// NewTriggerPoller creates a poller sampling every interval
// (DefaultTriggerInterval if zero).
func NewTriggerPoller(reader PointReader, triggers []Trigger, interval time.Duration, fire FireFunc) *TriggerPoller {
	if interval <= 0 {
		interval = DefaultTriggerInterval
	}
	return &TriggerPoller{
		reader:   reader,
		triggers: triggers,
		interval: interval,
		fire:     fire,
		logger:   noopLogger{},
		last:     make(map[string]int, len(triggers)),
	}
}

// SetLogger sets the logger for the poller.
func (p *TriggerPoller) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// Run samples every interval until ctx is cancelled. The first sample is
// taken one interval after Run starts.
func (p *TriggerPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll samples every trigger once and returns the node ids that fired.
func (p *TriggerPoller) Poll(ctx context.Context) []string {
	var fired []string
	for _, t := range p.triggers {
		if ctx.Err() != nil {
			return fired
		}

		v, err := p.reader.ReadPoint(ctx, t.DeviceID, t.Point)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("trigger read failed", "node_id", t.NodeID, "device", t.DeviceID, "point", t.Point.String(), "error", err)
			}
			continue
		}

		current := 0
		if v {
			current = 1
		}

		p.mu.Lock()
		previous, seen := p.last[t.NodeID]
		p.last[t.NodeID] = current
		p.mu.Unlock()

		if seen && current == t.Value && previous != t.Value {
			fired = append(fired, t.NodeID)
			if p.fire != nil {
				p.fire(ctx, t, previous, current)
			}
		}
	}
	return fired
}

// Values returns the last value read per trigger node.
func (p *TriggerPoller) Values() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

// sortTriggers orders triggers by node id so sampling order is stable.
func sortTriggers(ts []Trigger) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].NodeID < ts[j].NodeID })
}
