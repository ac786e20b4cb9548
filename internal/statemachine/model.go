// Package statemachine holds the validated, immutable model of payment state
// machines: named states, operations and the deterministic transition table
// mapping (state, operation, result) to the next state. The model is assembled
// once at startup from a declarative definition and never mutated afterwards.
package statemachine

import "fmt"

// OperationResult is the outcome class of one executed operation, used as the
// third component of a transition lookup.
type OperationResult string

const (
	ResultSuccess   OperationResult = "SUCCESS"
	ResultFailure   OperationResult = "FAILURE"
	ResultPending   OperationResult = "PENDING"
	ResultException OperationResult = "EXCEPTION"
)

func parseResult(s string) (OperationResult, error) {
	switch r := OperationResult(s); r {
	case ResultSuccess, ResultFailure, ResultPending, ResultException:
		return r, nil
	}
	return "", fmt.Errorf("unknown operation result %q", s)
}

// MissingEntryError reports an unresolvable state, operation, machine or
// transition. It always indicates a configuration defect, never a runtime
// condition to retry.
type MissingEntryError struct {
	Kind string // "state machine", "state", "operation", "transition"
	Name string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("no such %s: %s", e.Kind, e.Name)
}

// State is a named node in a state machine.
type State struct {
	name    string
	machine *StateMachine
}

func (s *State) Name() string           { return s.name }
func (s *State) Machine() *StateMachine { return s.machine }

// Operation is a named unit of work bound to one state machine. At runtime it
// resolves to the callback performing the external gateway call.
type Operation struct {
	name    string
	machine *StateMachine
}

func (o *Operation) Name() string { return o.name }

// Transition is the immutable triple (from, operation, result) -> to.
type Transition struct {
	from      *State
	operation *Operation
	result    OperationResult
	to        *State
}

func (t *Transition) From() *State            { return t.from }
func (t *Transition) Operation() *Operation   { return t.operation }
func (t *Transition) Result() OperationResult { return t.result }
func (t *Transition) To() *State              { return t.to }

type transitionKey struct {
	from      string
	operation string
	result    OperationResult
}

// StateMachine is a named collection of states, operations and transitions.
type StateMachine struct {
	name        string
	states      map[string]*State
	operations  map[string]*Operation
	transitions map[transitionKey]*Transition
}

func (m *StateMachine) Name() string { return m.name }

func (m *StateMachine) State(name string) (*State, error) {
	s, ok := m.states[name]
	if !ok {
		return nil, &MissingEntryError{Kind: "state", Name: m.name + "/" + name}
	}
	return s, nil
}

func (m *StateMachine) Operation(name string) (*Operation, error) {
	o, ok := m.operations[name]
	if !ok {
		return nil, &MissingEntryError{Kind: "operation", Name: m.name + "/" + name}
	}
	return o, nil
}

// FindTransition resolves the single transition for the given triple. Zero
// matches is a configuration error; more than one is impossible because the
// loader rejects duplicate triples.
func (m *StateMachine) FindTransition(from *State, op *Operation, result OperationResult) (*Transition, error) {
	t, ok := m.transitions[transitionKey{from: from.name, operation: op.name, result: result}]
	if !ok {
		return nil, &MissingEntryError{
			Kind: "transition",
			Name: fmt.Sprintf("%s/(%s, %s, %s)", m.name, from.name, op.name, result),
		}
	}
	return t, nil
}

// Config is the root holding every state machine for a deployment, plus the
// state-name index used to recover the owning machine of a stored state.
type Config struct {
	machines        map[string]*StateMachine
	machineForState map[string]*StateMachine
}

func (c *Config) StateMachine(name string) (*StateMachine, error) {
	m, ok := c.machines[name]
	if !ok {
		return nil, &MissingEntryError{Kind: "state machine", Name: name}
	}
	return m, nil
}

// MachineForState returns the machine declaring the given state name. The
// index is built once at load time; state names are globally unique across
// machines by validation.
func (c *Config) MachineForState(stateName string) (*StateMachine, error) {
	m, ok := c.machineForState[stateName]
	if !ok {
		return nil, &MissingEntryError{Kind: "state", Name: stateName}
	}
	return m, nil
}
