package redispatch

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Per-vehicle evaluation states and the events that move between them.
const (
	StateStable      = "stable"
	StateEvaluating  = "evaluating"
	StateReoptimized = "reoptimized"
	StateUnchanged   = "unchanged"

	eventTrigger    = "trigger"
	eventReoptimize = "reoptimize"
	eventKeep       = "keep"
	eventSettle     = "settle"
)

// vehicleFSM tracks one vehicle's evaluation lifecycle. Reoptimized and
// Unchanged are terminal per evaluation; settle returns to Stable so the
// next trigger can fire.
func newVehicleFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateStable,
		fsm.Events{
			{Name: eventTrigger, Src: []string{StateStable}, Dst: StateEvaluating},
			{Name: eventReoptimize, Src: []string{StateEvaluating}, Dst: StateReoptimized},
			{Name: eventKeep, Src: []string{StateEvaluating}, Dst: StateUnchanged},
			{Name: eventSettle, Src: []string{StateReoptimized, StateUnchanged}, Dst: StateStable},
		},
		fsm.Callbacks{},
	)
}

// fleetStates holds one FSM per vehicle id, created lazily.
type fleetStates struct {
	mu  sync.Mutex
	byV map[string]*fsm.FSM
}

func newFleetStates() *fleetStates {
	return &fleetStates{byV: map[string]*fsm.FSM{}}
}

func (f *fleetStates) get(vehicleID string) *fsm.FSM {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byV[vehicleID]
	if !ok {
		m = newVehicleFSM()
		f.byV[vehicleID] = m
	}
	return m
}

// State reports the current evaluation state for a vehicle.
func (f *fleetStates) State(vehicleID string) string {
	return f.get(vehicleID).Current()
}

func (f *fleetStates) event(ctx context.Context, vehicleID, ev string) error {
	return f.get(vehicleID).Event(ctx, ev)
}
