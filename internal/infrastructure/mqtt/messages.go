package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flow command actions accepted on the flow command topic.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// FlowCommand is the payload of a remote start/stop request.
type FlowCommand struct {
	Action string `json:"action"`
	FlowID string `json:"flow_id,omitempty"`
}

// ParseFlowCommand decodes and checks a flow command payload.
// The action is case-insensitive; an empty flow id means the configured default.
func ParseFlowCommand(payload []byte) (FlowCommand, error) {
	var cmd FlowCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return FlowCommand{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	cmd.FlowID = strings.TrimSpace(cmd.FlowID)

	switch cmd.Action {
	case ActionStart, ActionStop:
		return cmd, nil
	default:
		return FlowCommand{}, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}
}

// Offline reasons carried by SystemStatus.
const (
	ReasonShutdown = "graceful_shutdown"
	ReasonLost     = "unexpected_disconnect"
)

// SystemStatus is the retained payload of the site's system status topic.
// The broker publishes the ReasonLost variant as the client's will.
type SystemStatus struct {
	Status    string `json:"status"`
	Site      string `json:"site"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func onlineStatus(site, clientID string) SystemStatus {
	return SystemStatus{
		Status:    "online",
		Site:      site,
		ClientID:  clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func offlineStatus(site, clientID, reason string) SystemStatus {
	return SystemStatus{
		Status:    "offline",
		Site:      site,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
