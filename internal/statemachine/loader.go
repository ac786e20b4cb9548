package statemachine

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

// Definition is the declarative document shape a deployment loads at startup.
type Definition struct {
	StateMachines []MachineDefinition `json:"stateMachines"`
}

type MachineDefinition struct {
	Name        string                 `json:"name"`
	States      []string               `json:"states"`
	Operations  []string               `json:"operations"`
	Transitions []TransitionDefinition `json:"transitions"`
}

type TransitionDefinition struct {
	From      string `json:"from"`
	Operation string `json:"operation"`
	Result    string `json:"result"`
	To        string `json:"to"`
}

//go:embed payment_states.json
var defaultDefinition []byte

// Default returns the built-in payment state machine configuration covering
// the AUTH, PURCHASE and CREDIT machines.
func Default() (*Config, error) {
	var def Definition
	if err := json.Unmarshal(defaultDefinition, &def); err != nil {
		return nil, fmt.Errorf("parsing embedded state machine definition: %w", err)
	}
	return NewConfig(def)
}

// LoadFile reads and validates a definition document from disk.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state machine definition: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing state machine definition %s: %w", path, err)
	}
	return NewConfig(def)
}

// NewConfig validates a definition and assembles the immutable model. It
// rejects duplicate machine names, duplicate or globally colliding state
// names, duplicate operation names, transitions referencing undeclared
// states/operations/results, duplicate transition triples, and machines with
// no states or no transitions.
func NewConfig(def Definition) (*Config, error) {
	if len(def.StateMachines) == 0 {
		return nil, fmt.Errorf("state machine definition declares no machines")
	}

	cfg := &Config{
		machines:        make(map[string]*StateMachine, len(def.StateMachines)),
		machineForState: make(map[string]*StateMachine),
	}

	for _, md := range def.StateMachines {
		if md.Name == "" {
			return nil, fmt.Errorf("state machine with empty name")
		}
		if _, dup := cfg.machines[md.Name]; dup {
			return nil, fmt.Errorf("duplicate state machine %q", md.Name)
		}
		if len(md.States) == 0 {
			return nil, fmt.Errorf("state machine %q declares no states", md.Name)
		}
		if len(md.Transitions) == 0 {
			return nil, fmt.Errorf("state machine %q declares no transitions", md.Name)
		}

		m := &StateMachine{
			name:        md.Name,
			states:      make(map[string]*State, len(md.States)),
			operations:  make(map[string]*Operation, len(md.Operations)),
			transitions: make(map[transitionKey]*Transition, len(md.Transitions)),
		}

		for _, name := range md.States {
			if _, dup := m.states[name]; dup {
				return nil, fmt.Errorf("duplicate state %q in machine %q", name, md.Name)
			}
			if owner, dup := cfg.machineForState[name]; dup {
				return nil, fmt.Errorf("state %q declared by both %q and %q; state names must be globally unique", name, owner.name, md.Name)
			}
			s := &State{name: name, machine: m}
			m.states[name] = s
			cfg.machineForState[name] = m
		}

		for _, name := range md.Operations {
			if _, dup := m.operations[name]; dup {
				return nil, fmt.Errorf("duplicate operation %q in machine %q", name, md.Name)
			}
			m.operations[name] = &Operation{name: name, machine: m}
		}

		for _, td := range md.Transitions {
			from, ok := m.states[td.From]
			if !ok {
				return nil, fmt.Errorf("machine %q: transition from undeclared state %q", md.Name, td.From)
			}
			to, ok := m.states[td.To]
			if !ok {
				return nil, fmt.Errorf("machine %q: transition to undeclared state %q", md.Name, td.To)
			}
			op, ok := m.operations[td.Operation]
			if !ok {
				return nil, fmt.Errorf("machine %q: transition references undeclared operation %q", md.Name, td.Operation)
			}
			result, err := parseResult(td.Result)
			if err != nil {
				return nil, fmt.Errorf("machine %q: %w", md.Name, err)
			}
			key := transitionKey{from: from.name, operation: op.name, result: result}
			if _, dup := m.transitions[key]; dup {
				return nil, fmt.Errorf("machine %q: ambiguous transition (%s, %s, %s)", md.Name, td.From, td.Operation, td.Result)
			}
			m.transitions[key] = &Transition{from: from, operation: op, result: result, to: to}
		}

		cfg.machines[md.Name] = m
	}

	return cfg, nil
}
