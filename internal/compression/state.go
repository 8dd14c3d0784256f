package compression

// State is a job's position in its lifecycle:
//
//	Received → Validated → (ScopeAcquired →)? Invoking → Succeeded | Failed
//
// Only video jobs pass through ScopeAcquired. Any non-terminal state may
// move to Failed.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateScopeAcquired
	StateInvoking
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateReceived:      "Received",
	StateValidated:     "Validated",
	StateScopeAcquired: "ScopeAcquired",
	StateInvoking:      "Invoking",
	StateSucceeded:     "Succeeded",
	StateFailed:        "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateReceived:
		return next == StateValidated
	case StateValidated:
		return next == StateScopeAcquired || next == StateInvoking
	case StateScopeAcquired:
		return next == StateInvoking
	case StateInvoking:
		return next == StateSucceeded
	}
	return false
}
