// Package pipeline defines the deployment state machine, the error taxonomy
// for every pipeline stage, and the mapping from failure class to process
// exit code. It contains no I/O.
package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// States
// =============================================================================

// State is a position in the deployment pipeline.
type State string

const (
	StateInit             State = "init"
	StateConfigResolved   State = "config_resolved"
	StateSourceReady      State = "source_ready"
	StateRemoteReachable  State = "remote_reachable"
	StateEnvironmentReady State = "environment_ready"
	StateSynced           State = "synced"
	StateDeployed         State = "deployed"
	StateProxyConfigured  State = "proxy_configured"
	StateValidated        State = "validated"
	StateDone             State = "done"

	// StateAborted is the absorbing failure state, reachable from any
	// non-terminal deploy state.
	StateAborted State = "aborted"

	// Cleanup is a parallel path entered only via the explicit cleanup
	// trigger; it never passes through the deploy states.
	StateCleaningUp State = "cleaning_up"
	StateCleanedUp  State = "cleaned_up"
)

// ErrInvalidTransition is returned for a transition the table does not allow.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// validTransitions defines the allowed forward edges. Aborted is handled
// separately: it is reachable from every non-terminal deploy state.
var validTransitions = map[State][]State{
	StateInit:             {StateConfigResolved, StateCleaningUp},
	StateConfigResolved:   {StateSourceReady},
	StateSourceReady:      {StateRemoteReachable},
	StateRemoteReachable:  {StateEnvironmentReady},
	StateEnvironmentReady: {StateSynced},
	StateSynced:           {StateDeployed},
	StateDeployed:         {StateProxyConfigured},
	StateProxyConfigured:  {StateValidated},
	StateValidated:        {StateDone},
	StateDone:             {},
	StateAborted:          {},
	StateCleaningUp:       {StateCleanedUp},
	StateCleanedUp:        {},
}

// terminal states cannot be left, not even for Aborted.
func terminal(s State) bool {
	return s == StateDone || s == StateAborted || s == StateCleanedUp
}

// ValidateTransition checks whether from -> to is an allowed edge.
func ValidateTransition(from, to State) error {
	if to == StateAborted {
		if terminal(from) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		return nil
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// =============================================================================
// Run
// =============================================================================

// Run tracks the state of one pipeline invocation. A Run is owned by a single
// orchestrator and is never shared between concurrent invocations.
type Run struct {
	state State
	// Err is the failure that moved the run to Aborted, nil otherwise.
	Err error
}

// NewRun returns a run in the initial state.
func NewRun() *Run {
	return &Run{state: StateInit}
}

// State returns the current state.
func (r *Run) State() State {
	return r.state
}

// Transition moves the run to the next state, enforcing the transition table.
func (r *Run) Transition(to State) error {
	if err := ValidateTransition(r.state, to); err != nil {
		return err
	}
	r.state = to
	return nil
}

// Abort moves the run to the absorbing failure state, recording cause.
// Aborting an already-terminal run is a programming error.
func (r *Run) Abort(cause error) error {
	if err := ValidateTransition(r.state, StateAborted); err != nil {
		return err
	}
	r.state = StateAborted
	r.Err = cause
	return nil
}
