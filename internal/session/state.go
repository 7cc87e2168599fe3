package session

// State is the lifecycle position of a Session
type State int

const (
	// Idle accepts a new Send
	Idle State = iota
	// AwaitingResponse has exactly one request in flight
	AwaitingResponse
	// Faulted hit a configuration failure and needs Reconfigure or Reset
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// RollbackPolicy decides what happens to the user message of a failed turn
type RollbackPolicy int

const (
	// RetainUserMessage keeps the user message in history after a failure
	RetainUserMessage RollbackPolicy = iota
	// RollbackUserMessage removes it
	RollbackUserMessage
)

func (p RollbackPolicy) String() string {
	if p == RollbackUserMessage {
		return "rollback"
	}
	return "retain"
}
