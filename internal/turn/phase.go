// Package turn drives one in-flight agent turn: the per-conversation phase
// machine and the reconciliation of streamed chunks into exactly one stored
// assistant message.
package turn

// Phase is the state of an in-flight agent turn.
type Phase int

const (
	// PhaseIdle means no turn is in flight.
	PhaseIdle Phase = iota
	// PhaseAwaitingStart means the user turn was sent and no inbound event
	// for it has arrived yet.
	PhaseAwaitingStart
	// PhaseThinking means the agent is streaming its thinking trace.
	PhaseThinking
	// PhaseStreaming means the agent is streaming the final answer.
	PhaseStreaming
	// PhaseDone means the turn finalized successfully.
	PhaseDone
	// PhaseFailed means the turn ended on an error or transport loss.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingStart:
		return "awaiting_turn_start"
	case PhaseThinking:
		return "thinking"
	case PhaseStreaming:
		return "streaming_response"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a turn is in flight: a new turn may only start when
// Active is false.
func (p Phase) Active() bool {
	return p == PhaseAwaitingStart || p == PhaseThinking || p == PhaseStreaming
}
