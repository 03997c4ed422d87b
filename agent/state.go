package agent

// State of an agent run
type State int

// States
const (
	StateAwaitingTurn State = iota
	StateGenerating
	StateToolsRequested
	StateExecutingTools
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateAwaitingTurn:   "AwaitingTurn",
	StateGenerating:     "Generating",
	StateToolsRequested: "ToolsRequested",
	StateExecutingTools: "ExecutingTools",
	StateCompleted:      "Completed",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Terminal returns true for Completed and Failed
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
