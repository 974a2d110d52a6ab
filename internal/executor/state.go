package executor

import (
	"fmt"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// RunState is a step of the execution state machine.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateBuyingSpot   RunState = "buying_spot"
	StateSplitting    RunState = "splitting"
	StateSwappingLegs RunState = "swapping_legs"
	StateMerging      RunState = "merging"
	StateSellingSpot  RunState = "selling_spot"
	StateDone         RunState = "done"
	StatePartial      RunState = "partial"
	StateFailed       RunState = "failed"
)

// transitions lists the forward moves allowed from each state. Any
// non-terminal state may also stop in Partial or Failed.
var transitions = map[RunState][]RunState{
	StateIdle:         {StateBuyingSpot, StateSplitting},
	StateBuyingSpot:   {StateSplitting},
	StateSplitting:    {StateSwappingLegs},
	StateSwappingLegs: {StateMerging},
	StateMerging:      {StateSellingSpot, StateDone},
	StateSellingSpot:  {StateDone},
}

// Terminal reports whether s ends a run.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StatePartial || s == StateFailed
}

// Status maps a terminal state to the ledger status.
func (s RunState) Status() domain.RunStatus {
	switch s {
	case StateDone:
		return domain.RunDone
	case StatePartial:
		return domain.RunPartial
	case StateFailed:
		return domain.RunFailed
	default:
		return domain.RunPending
	}
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to RunState) bool {
	if from.Terminal() {
		return false
	}
	if to == StatePartial || to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type machine struct {
	state   RunState
	history []RunState
}

func newMachine() *machine {
	return &machine{state: StateIdle, history: []RunState{StateIdle}}
}

func (m *machine) advance(to RunState) error {
	if m.state == to {
		return nil
	}
	if !CanTransition(m.state, to) {
		return fmt.Errorf("executor: illegal transition %s -> %s", m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
