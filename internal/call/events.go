package call

import (
	"context"

	"github.com/voicelinehq/voiceline/pkg/audio"
)

// Event types sent to the client over the transport's control channel.
const (
	EventTurnStarted = "turn_started"
	EventTurnEnded   = "turn_ended"
	EventSpeaking    = "speaking"
	EventListening   = "listening"
	EventTranscript  = "transcript"
	EventError       = "error"
	EventEnded       = "ended"
)

// Control message types accepted from the client.
const (
	ControlPlaybackComplete = "playback_complete"
	ControlHangup           = "hangup"
)

// Event is a JSON control message pushed to the client. Type is always set;
// the remaining fields depend on it: Text and Role accompany
// [EventTranscript], Kind accompanies [EventError].
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Service string `json:"service,omitempty"`
}

// Conn is the session's view of the client transport. Implementations must
// be safe for use from the session goroutine; the session never sends
// concurrently on one Conn.
type Conn interface {
	// SendAudio streams one synthesized clip to the client as binary PCM.
	SendAudio(ctx context.Context, clip audio.Clip) error

	// SendEvent pushes one JSON control event to the client.
	SendEvent(ctx context.Context, ev Event) error
}
