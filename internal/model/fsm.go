package model

// transitions enumerates every allowed source -> destination status change
// for the Task Service state machine. Anything not listed here
// is forbidden.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusDispatching:     true,
		StatusCancelRequested: true,
	},
	StatusDispatching: {
		StatusRunning:         true,
		StatusFailed:          true,
		StatusCancelRequested: true,
	},
	StatusRunning: {
		StatusCompleted:       true,
		StatusFailed:          true,
		StatusCancelRequested: true,
	},
	StatusCancelRequested: {
		StatusCancelled: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether moving from "from" to "to" is permitted.
// Terminal statuses never transition anywhere, including to themselves.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return transitions[from][to]
}
