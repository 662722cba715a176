package orchestrator

// State is a meeting session's lifecycle position.
type State string

const (
	StateScheduled State = "scheduled"
	StateJoining   State = "joining"
	StateActive    State = "active"
	StateEnding    State = "ending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions is the closed transition set. Scheduled sessions can move
// straight to Ending when a caller cancels a meeting before it started.
var validTransitions = map[State][]State{
	StateScheduled: {StateJoining, StateEnding},
	StateJoining:   {StateActive, StateFailed, StateEnding},
	StateActive:    {StateEnding},
	StateEnding:    {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
