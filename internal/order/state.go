// Package order enforces the order lifecycle state machine.
//
// Orders move pending -> open -> partially_filled -> filled, with canceled
// and rejected as exits. Terminal states accept no transitions, and a state
// may always transition to itself so repeated exchange updates are harmless.
package order

import (
	"quantdesk/pkg/exchanges/common"
)

// transitions maps each state to the states reachable from it. Self
// transitions are handled separately.
var transitions = map[common.OrderState][]common.OrderState{
	common.StatePending: {
		common.StateOpen,
		common.StateRejected,
	},
	common.StateOpen: {
		common.StatePartiallyFilled,
		common.StateFilled,
		common.StateCanceled,
	},
	common.StatePartiallyFilled: {
		common.StateFilled,
		common.StateCanceled,
	},
	common.StateFilled:   {},
	common.StateCanceled: {},
	common.StateRejected: {},
}

// CanTransition reports whether from may move to to. It never mutates
// anything, so callers can probe before acting.
func CanTransition(from, to common.OrderState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change and returns the resulting state. An
// illegal change returns a StateError naming both states; a self transition
// succeeds without effect.
func Transition(from, to common.OrderState) (common.OrderState, error) {
	if !CanTransition(from, to) {
		return from, &common.StateError{From: from, To: to}
	}
	return to, nil
}
