package automation

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/parkflow/parkflow-core/internal/park"
)

// Kind identifies what a node does when the chain reaches it.
type Kind string

const (
	KindTrigger Kind = "trigger"
	KindMove    Kind = "move"
	KindSet     Kind = "set"
	KindCheck   Kind = "check"
)

// AllKinds returns every node kind.
func AllKinds() []Kind {
	return []Kind{KindTrigger, KindMove, KindSet, KindCheck}
}

// Graph is a flow: nodes joined by directed edges. It is pure data and is
// loaded and saved as a unit.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single step of a flow.
type Node struct {
	ID     string     `json:"id"`
	Kind   Kind       `json:"kind"`
	Config NodeConfig `json:"config"`
}

// NodeConfig carries the settings of every kind. Only the fields of the
// node's own kind are meaningful; use the typed views to read them.
type NodeConfig struct {
	// trigger
	DeviceID     string      `json:"deviceId,omitempty"`
	PointAddress string      `json:"pointAddress,omitempty"`
	TriggerValue *PointValue `json:"triggerValue,omitempty"`

	// move
	SourceGroup      string `json:"sourceGroup,omitempty"`
	DestinationGroup string `json:"destinationGroup,omitempty"`

	// set
	LocationName string      `json:"locationName,omitempty"`
	TargetState  *park.State `json:"targetState,omitempty"`

	// check
	Group         string      `json:"group,omitempty"`
	ExpectedState *park.State `json:"expectedState,omitempty"`
}

// Edge connects the output of Source to the input of Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// TriggerConfig is the typed view of a trigger node.
type TriggerConfig struct {
	DeviceID     string     `json:"deviceId" validate:"required"`
	PointAddress string     `json:"pointAddress" validate:"required,point"`
	TriggerValue PointValue `json:"triggerValue" validate:"oneof=0 1"`
}

// MoveConfig is the typed view of a move node.
type MoveConfig struct {
	SourceGroup      string `json:"sourceGroup" validate:"required"`
	DestinationGroup string `json:"destinationGroup" validate:"required"`
}

// SetConfig is the typed view of a set node.
type SetConfig struct {
	LocationName string      `json:"locationName" validate:"required"`
	TargetState  *park.State `json:"targetState" validate:"required,min=0,max=3"`
}

// CheckConfig is the typed view of a check node.
type CheckConfig struct {
	Group         string      `json:"group" validate:"required"`
	ExpectedState *park.State `json:"expectedState" validate:"required,min=0,max=3"`
}

// Trigger returns the trigger settings. A missing trigger value means 1.
func (c NodeConfig) Trigger() TriggerConfig {
	v := PointValue(1)
	if c.TriggerValue != nil {
		v = *c.TriggerValue
	}
	return TriggerConfig{DeviceID: c.DeviceID, PointAddress: c.PointAddress, TriggerValue: v}
}

// Move returns the move settings.
func (c NodeConfig) Move() MoveConfig {
	return MoveConfig{SourceGroup: c.SourceGroup, DestinationGroup: c.DestinationGroup}
}

// Set returns the set settings.
func (c NodeConfig) Set() SetConfig {
	return SetConfig{LocationName: c.LocationName, TargetState: c.TargetState}
}

// Check returns the check settings.
func (c NodeConfig) Check() CheckConfig {
	return CheckConfig{Group: c.Group, ExpectedState: c.ExpectedState}
}

// PointValue is a digital point value, 0 or 1. It decodes the loose forms
// operators type into the editor: numbers, booleans, and the strings
// "1", "0", "on", "off", "true", "false". Anything else decodes to -1 so
// validation can report it.
type PointValue int

// UnmarshalJSON implements json.Unmarshaler.
func (v *PointValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case bytes.Equal(b, []byte("true")):
		*v = 1
		return nil
	case bytes.Equal(b, []byte("false")):
		*v = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "on", "true":
			*v = 1
		case "0", "off", "false":
			*v = 0
		default:
			*v = -1
		}
		return nil
	}

	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	switch n {
	case 0, 1:
		*v = PointValue(n)
	default:
		*v = -1
	}
	return nil
}

// Outcome is how a node execution ended.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"        // action attempted and lost, branch goes on
	OutcomeNotSatisfied Outcome = "not_satisfied" // business rule not met, branch ends
	OutcomeSkipped      Outcome = "skipped"
	OutcomeCancelled    Outcome = "cancelled"
)

// Result is returned by every node executor. A succeeded or failed node
// lets the chain continue along its out-edges; any other outcome ends
// the branch.
type Result struct {
	Outcome Outcome
	Err     error
}

// Continue reports whether the chain follows the node's out-edges.
func (r Result) Continue() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeFailed
}

func succeeded() Result             { return Result{Outcome: OutcomeSucceeded} }
func failed(err error) Result       { return Result{Outcome: OutcomeFailed, Err: err} }
func notSatisfied(err error) Result { return Result{Outcome: OutcomeNotSatisfied, Err: err} }
func cancelled(err error) Result    { return Result{Outcome: OutcomeCancelled, Err: err} }
func skipped() Result               { return Result{Outcome: OutcomeSkipped} }

// Level is the severity of an operator console entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelTrigger Level = "trigger"
)

// ConsoleEntry is one timestamped, node-scoped line of the operator console.
type ConsoleEntry struct {
	Time    time.Time      `json:"time"`
	FlowID  string         `json:"flow_id"`
	NodeID  string         `json:"node_id,omitempty"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Step records the result of one node within a chain run.
type Step struct {
	NodeID string `json:"node_id"`
	Kind   Kind   `json:"kind"`
	Result Result `json:"-"`
}

// RunStatus describes the flow runner.
type RunStatus struct {
	Running   bool           `json:"running"`
	FlowID    string         `json:"flow_id,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Triggers  map[string]int `json:"triggers,omitempty"` // node id -> last point value
	InFlight  []string       `json:"in_flight,omitempty"`
	Reserved  []string       `json:"reserved,omitempty"`
}
