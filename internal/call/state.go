// Package call implements the per-call conversation loop: a session state
// machine that feeds caller audio through voice activity detection, runs
// finalized turns through the transcription, reasoning, and synthesis
// provider chains, and streams the agent's reply back over the transport.
//
// A [Session] owns exactly one call. The [Registry] tracks live sessions and
// hands finished transcripts to an [Exporter] when a session is retired.
package call

import "fmt"

// State is the session's position in the conversation loop.
type State int

const (
	// StateIdle is the state of a freshly created session with no transport
	// attached yet.
	StateIdle State = iota

	// StateListening means caller audio is being consumed and fed to the
	// endpoint detector.
	StateListening

	// StateFinalizing is the brief window between the detector ending a turn
	// and the pipeline taking the clip.
	StateFinalizing

	// StateTranscribing means the turn's audio is with the transcription
	// chain.
	StateTranscribing

	// StateReasoning means the transcript is with the reasoning chain.
	StateReasoning

	// StateSynthesizing means reply text is with the synthesis chain.
	StateSynthesizing

	// StateSpeaking means agent audio has been sent and the session is
	// waiting for the client's playback-complete signal.
	StateSpeaking

	// StateEnded is terminal. No further transitions occur.
	StateEnded
)

// String returns the state name for logs and events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateTranscribing:
		return "transcribing"
	case StateReasoning:
		return "reasoning"
	case StateSynthesizing:
		return "synthesizing"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validNext lists the permitted transitions out of each state. A transition
// to StateEnded is additionally allowed from every state, so it is omitted
// here.
// Listening permits Synthesizing directly for the hangup farewell, which
// skips the pipeline stages.
var validNext = map[State][]State{
	StateIdle:         {StateSynthesizing},
	StateListening:    {StateFinalizing, StateSynthesizing},
	StateFinalizing:   {StateTranscribing, StateListening},
	StateTranscribing: {StateReasoning, StateSynthesizing, StateListening},
	StateReasoning:    {StateSynthesizing, StateListening},
	StateSynthesizing: {StateSpeaking, StateListening},
	StateSpeaking:     {StateListening},
	StateEnded:        nil,
}

// CanTransition reports whether moving from s to next is a legal step in the
// conversation loop. Every non-terminal state may move to [StateEnded].
func (s State) CanTransition(next State) bool {
	if s == StateEnded {
		return false
	}
	if next == StateEnded {
		return true
	}
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}
