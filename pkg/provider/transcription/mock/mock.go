// Package mock provides a test double for the transcription package
// interface.
//
// Pre-populate Text (or Err) with the response you want the caller to
// receive, then inspect TranscribeCalls to verify which clips were
// delivered. Responses may also be scripted per call via Script.
package mock

import (
	"context"
	"sync"

	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the clip passed to Transcribe (PCM copied).
	Clip audio.Clip
}

// Response is one scripted Transcribe result.
type Response struct {
	Text string
	Err  error
}

// Provider is a mock implementation of transcription.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Script is empty.
	Text string

	// Err, if non-nil, is returned by Transcribe when Script is empty.
	Err error

	// Script, when non-empty, supplies one Response per call in order. Calls
	// past the end of the script fall back to Text/Err.
	Script []Response

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	calls int
}

// Transcribe records the call and returns the next scripted response.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pcm := make([]byte, len(clip.PCM))
	copy(pcm, clip.PCM)
	clip.PCM = pcm
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Clip: clip})

	idx := p.calls
	p.calls++
	if idx < len(p.Script) {
		r := p.Script[idx]
		return r.Text, r.Err
	}
	return p.Text, p.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears recorded calls and the script cursor. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.calls = 0
}

// Ensure Provider implements transcription.Provider at compile time.
var _ transcription.Provider = (*Provider)(nil)
