// Package transcription defines the Provider interface for speech-to-text
// backends.
//
// A transcription provider wraps a batch speech recognition service (e.g., a
// whisper-server instance or Deepgram's pre-recorded API) behind a single
// call: one finished audio clip in, one transcript out. Streaming partials
// are deliberately absent — the orchestrator finalizes a complete turn
// before transcribing it, so the narrow batch interface is all the router
// needs to drive fallback across backends.
//
// Implementations must be safe for concurrent use; the router may transcribe
// turns from many sessions at once through one Provider value.
package transcription

import (
	"context"

	"github.com/voicelinehq/voiceline/pkg/audio"
)

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts clip into text. The clip always carries a complete
	// spoken turn in 16-bit little-endian PCM at the clip's declared sample
	// format.
	//
	// A nil error with an empty or whitespace-only transcript is a valid
	// provider response (the audio may genuinely contain no recognizable
	// speech); the router treats it as a routing failure, not the provider.
	//
	// Implementations must respect ctx cancellation promptly — the router
	// enforces per-provider timeouts through ctx.
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}
