package orchestrator

// State of the loop.
type State int

const (
	// StateDone is the idle state: the model produced the final answer,
	// or the loop has not started yet.
	StateDone State = iota
	// StateAwaitingModel is the state when the conversation is sent to the model.
	StateAwaitingModel
	// StateAwaitingTools is the state when the requested tools are executed.
	StateAwaitingTools
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateAwaitingTools:
		return "AWAITING_TOOLS"
	default:
		return "DONE"
	}
}
