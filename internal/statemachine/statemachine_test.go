package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func smallDefinition() Definition {
	return Definition{
		StateMachines: []MachineDefinition{
			{
				Name:       "AUTH",
				States:     []string{"AUTH_INIT", "AUTH_SUCCESS", "AUTH_FAILED"},
				Operations: []string{"OP_AUTHORIZE"},
				Transitions: []TransitionDefinition{
					{From: "AUTH_INIT", Operation: "OP_AUTHORIZE", Result: "SUCCESS", To: "AUTH_SUCCESS"},
					{From: "AUTH_INIT", Operation: "OP_AUTHORIZE", Result: "FAILURE", To: "AUTH_FAILED"},
				},
			},
		},
	}
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
		errMsg string
	}{
		{
			name:   "no machines",
			mutate: func(d *Definition) { d.StateMachines = nil },
			errMsg: "declares no machines",
		},
		{
			name: "duplicate machine",
			mutate: func(d *Definition) {
				m := d.StateMachines[0]
				m.States = []string{"OTHER_INIT"}
				m.Transitions = []TransitionDefinition{{From: "OTHER_INIT", Operation: "OP_AUTHORIZE", Result: "SUCCESS", To: "OTHER_INIT"}}
				d.StateMachines = append(d.StateMachines, m)
			},
			errMsg: "duplicate state machine",
		},
		{
			name: "duplicate state in machine",
			mutate: func(d *Definition) {
				d.StateMachines[0].States = append(d.StateMachines[0].States, "AUTH_INIT")
			},
			errMsg: "duplicate state",
		},
		{
			name: "globally colliding state names",
			mutate: func(d *Definition) {
				d.StateMachines = append(d.StateMachines, MachineDefinition{
					Name:       "OTHER",
					States:     []string{"AUTH_INIT"},
					Operations: []string{"OP_OTHER"},
					Transitions: []TransitionDefinition{
						{From: "AUTH_INIT", Operation: "OP_OTHER", Result: "SUCCESS", To: "AUTH_INIT"},
					},
				})
			},
			errMsg: "globally unique",
		},
		{
			name: "duplicate operation",
			mutate: func(d *Definition) {
				d.StateMachines[0].Operations = append(d.StateMachines[0].Operations, "OP_AUTHORIZE")
			},
			errMsg: "duplicate operation",
		},
		{
			name: "transition from undeclared state",
			mutate: func(d *Definition) {
				d.StateMachines[0].Transitions[0].From = "NOWHERE"
			},
			errMsg: "undeclared state",
		},
		{
			name: "transition to undeclared state",
			mutate: func(d *Definition) {
				d.StateMachines[0].Transitions[0].To = "NOWHERE"
			},
			errMsg: "undeclared state",
		},
		{
			name: "transition with undeclared operation",
			mutate: func(d *Definition) {
				d.StateMachines[0].Transitions[0].Operation = "OP_NOWHERE"
			},
			errMsg: "undeclared operation",
		},
		{
			name: "unknown result",
			mutate: func(d *Definition) {
				d.StateMachines[0].Transitions[0].Result = "MAYBE"
			},
			errMsg: "unknown operation result",
		},
		{
			name: "ambiguous triple",
			mutate: func(d *Definition) {
				d.StateMachines[0].Transitions = append(d.StateMachines[0].Transitions,
					TransitionDefinition{From: "AUTH_INIT", Operation: "OP_AUTHORIZE", Result: "SUCCESS", To: "AUTH_FAILED"})
			},
			errMsg: "ambiguous transition",
		},
		{
			name:   "no states",
			mutate: func(d *Definition) { d.StateMachines[0].States = nil },
			errMsg: "declares no states",
		},
		{
			name:   "no transitions",
			mutate: func(d *Definition) { d.StateMachines[0].Transitions = nil },
			errMsg: "declares no transitions",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			def := smallDefinition()
			tt.mutate(&def)
			_, err := NewConfig(def)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFindTransition_Determinism(t *testing.T) {
	cfg, err := NewConfig(smallDefinition())
	require.NoError(t, err)

	machine, err := cfg.StateMachine("AUTH")
	require.NoError(t, err)
	init, err := machine.State("AUTH_INIT")
	require.NoError(t, err)
	op, err := machine.Operation("OP_AUTHORIZE")
	require.NoError(t, err)

	tr, err := machine.FindTransition(init, op, ResultSuccess)
	require.NoError(t, err)
	require.Equal(t, "AUTH_SUCCESS", tr.To().Name())
	require.Equal(t, init, tr.From())
	require.Equal(t, ResultSuccess, tr.Result())

	// Absent triple fails with MissingEntry, never a fallback.
	_, err = machine.FindTransition(init, op, ResultException)
	var missing *MissingEntryError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "transition", missing.Kind)
}

func TestConfig_Lookups(t *testing.T) {
	cfg, err := NewConfig(smallDefinition())
	require.NoError(t, err)

	_, err = cfg.StateMachine("NOPE")
	var missing *MissingEntryError
	require.ErrorAs(t, err, &missing)

	machine, err := cfg.MachineForState("AUTH_SUCCESS")
	require.NoError(t, err)
	require.Equal(t, "AUTH", machine.Name())

	_, err = cfg.MachineForState("NOWHERE")
	require.ErrorAs(t, err, &missing)

	machine, _ = cfg.StateMachine("AUTH")
	_, err = machine.State("NOWHERE")
	require.ErrorAs(t, err, &missing)
	_, err = machine.Operation("OP_NOWHERE")
	require.ErrorAs(t, err, &missing)
}

func TestDefault_LoadsAndServesPaymentFlows(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	for state, machineName := range map[string]string{
		"AUTH_INIT":     "AUTH",
		"PURCHASE_INIT": "PURCHASE",
		"CREDIT_INIT":   "CREDIT",
	} {
		machine, err := cfg.MachineForState(state)
		require.NoError(t, err)
		require.Equal(t, machineName, machine.Name())
	}

	// Capture chains off a successful authorization within the AUTH machine.
	auth, err := cfg.StateMachine("AUTH")
	require.NoError(t, err)
	authSuccess, err := auth.State("AUTH_SUCCESS")
	require.NoError(t, err)
	opCapture, err := auth.Operation("OP_CAPTURE")
	require.NoError(t, err)
	for result, target := range map[OperationResult]string{
		ResultSuccess:   "CAPTURE_SUCCESS",
		ResultPending:   "CAPTURE_PENDING",
		ResultFailure:   "CAPTURE_FAILED",
		ResultException: "CAPTURE_ABORTED",
	} {
		tr, err := auth.FindTransition(authSuccess, opCapture, result)
		require.NoError(t, err)
		require.Equal(t, target, tr.To().Name())
	}
}

type recordingCallbacks struct {
	order    []string
	outcome  Outcome
	entering func(state *State, outcome Outcome)
}

func (r *recordingCallbacks) LeavingState(_ context.Context, state *State) error {
	r.order = append(r.order, "leaving:"+state.Name())
	return nil
}

func (r *recordingCallbacks) DoOperation(context.Context) Outcome {
	r.order = append(r.order, "operation")
	return r.outcome
}

func (r *recordingCallbacks) EnteringState(_ context.Context, state *State, _ *Operation, outcome Outcome) error {
	r.order = append(r.order, "entering:"+state.Name())
	if r.entering != nil {
		r.entering(state, outcome)
	}
	return nil
}

func TestRunOperation(t *testing.T) {
	cfg, err := NewConfig(smallDefinition())
	require.NoError(t, err)
	machine, _ := cfg.StateMachine("AUTH")
	init, _ := machine.State("AUTH_INIT")
	op, _ := machine.Operation("OP_AUTHORIZE")

	t.Run("success path runs callbacks in order", func(t *testing.T) {
		cb := &recordingCallbacks{outcome: SuccessOutcome()}
		outcome, err := init.RunOperation(context.Background(), op, cb, cb, cb)
		require.NoError(t, err)
		require.Equal(t, ResultSuccess, outcome.Result())
		require.Equal(t, []string{"leaving:AUTH_INIT", "operation", "entering:AUTH_SUCCESS"}, cb.order)
	})

	t.Run("retryable failure transitions to FAILED and keeps retry date", func(t *testing.T) {
		retryAt := time.Now().Add(time.Hour)
		cb := &recordingCallbacks{outcome: RetryableOutcome(retryAt, errors.New("declined"))}
		outcome, err := init.RunOperation(context.Background(), op, cb, cb, cb)
		require.NoError(t, err)
		require.Equal(t, ResultFailure, outcome.Result())
		got, ok := outcome.RetryAt()
		require.True(t, ok)
		require.Equal(t, retryAt, got)
		require.EqualError(t, outcome.Err(), "declined")
		require.Equal(t, "entering:AUTH_FAILED", cb.order[2])
	})

	t.Run("unconfigured transition is a missing entry", func(t *testing.T) {
		cb := &recordingCallbacks{outcome: TerminalOutcome(errors.New("boom"))}
		_, err := init.RunOperation(context.Background(), op, cb, cb, cb)
		var missing *MissingEntryError
		require.ErrorAs(t, err, &missing)
		// Entering must not run when the transition cannot be resolved.
		require.Equal(t, []string{"leaving:AUTH_INIT", "operation"}, cb.order)
	})
}
