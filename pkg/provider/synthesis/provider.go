// Package synthesis defines the Provider interface for text-to-speech
// backends.
//
// A synthesis provider turns one reply into one finished audio clip in the
// orchestrator's canonical format (16-bit LE PCM). Backends that produce
// other encodings decode or resample inside their adapter so the session
// layer never sees anything but raw PCM.
package synthesis

import (
	"context"

	"github.com/voicelinehq/voiceline/pkg/audio"
)

// Voice selects how a reply should sound. Providers ignore fields they
// cannot honor rather than failing.
type Voice struct {
	// ID names a backend-specific voice ("21m00Tcm4TlvDq8ikWAM" for
	// ElevenLabs, a model/speaker pair for Coqui). Empty means the
	// backend's default.
	ID string
	// Language is a BCP 47 tag hint, e.g. "en-US".
	Language string
	// Speed is a playback-rate multiplier; 0 means 1.0.
	Speed float64
}

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize renders text as speech. The returned clip must be non-empty
	// on success; an empty clip with a nil error is treated as a failure by
	// the router. Implementations must honor ctx cancellation.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)
}
