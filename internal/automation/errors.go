package automation

import (
	"errors"
	"strings"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrInvalidFlow) {
//	    // report the problems, refuse to start
//	}
var (
	// ErrInvalidFlow is returned when a flow graph fails validation.
	ErrInvalidFlow = errors.New("flow: invalid")

	// ErrInvalidNode is returned when a single node's configuration is incomplete.
	ErrInvalidNode = errors.New("flow: invalid node")

	// ErrInvalidFlowID is returned for an empty flow id.
	ErrInvalidFlowID = errors.New("flow: invalid id")

	// ErrAlreadyRunning is returned when starting a flow while one is running.
	ErrAlreadyRunning = errors.New("flow: already running")

	// ErrFlowRunning is returned when saving the graph of the running flow.
	ErrFlowRunning = errors.New("flow: graph is in use by the running flow")

	// ErrNotReady is returned by a move node when no source or destination park is eligible.
	ErrNotReady = errors.New("flow: no eligible park pair")

	// ErrCheckNotSatisfied is returned by a check node when no park matches.
	ErrCheckNotSatisfied = errors.New("flow: check not satisfied")

	// ErrParkReserved is returned by LockManager.WithUnreserved for a park
	// claimed by an in-flight move.
	ErrParkReserved = errors.New("flow: park is reserved by a running move")
)

// ValidationError lists every problem found in a flow graph.
// It matches ErrInvalidFlow with errors.Is.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidFlow.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidFlow
}
