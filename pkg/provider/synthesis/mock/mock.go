// Package mock provides a test double for the synthesis package interface.
//
// By default Synthesize returns a short non-empty clip so session tests can
// drive the full speak path without real audio. Set Clip, Err, or Script to
// control responses; inspect SynthesizeCalls to verify the spoken text.
package mock

import (
	"context"
	"sync"

	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice synthesis.Voice
}

// Response is one scripted Synthesize result.
type Response struct {
	Clip audio.Clip
	Err  error
}

// Provider is a mock implementation of synthesis.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when Script is empty. A zero Clip is
	// replaced with a short non-empty default so callers that reject empty
	// clips still pass.
	Clip audio.Clip

	// Err, if non-nil, is returned by Synthesize when Script is empty.
	Err error

	// Script, when non-empty, supplies one Response per call in order. Calls
	// past the end of the script fall back to Clip/Err.
	Script []Response

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall

	calls int
}

// Synthesize records the call and returns the next scripted response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice synthesis.Voice) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})

	idx := p.calls
	p.calls++
	if idx < len(p.Script) {
		r := p.Script[idx]
		return r.Clip, r.Err
	}
	if p.Err != nil {
		return audio.Clip{}, p.Err
	}
	if p.Clip.Empty() {
		return audio.Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}, nil
	}
	return p.Clip, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// SpokenTexts returns the text of every call in order. Thread-safe.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		texts[i] = c.Text
	}
	return texts
}

// Reset clears recorded calls and the script cursor. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.calls = 0
}

// Ensure Provider implements synthesis.Provider at compile time.
var _ synthesis.Provider = (*Provider)(nil)
