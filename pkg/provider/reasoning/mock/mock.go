// Package mock provides a test double for the reasoning package interface.
//
// Pre-populate Reply (or Err) with the response the caller should receive,
// or script per-call responses via Script. GenerateCalls records every
// request for inspection.
package mock

import (
	"context"
	"sync"

	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
)

// GenerateCall records a single invocation of Provider.Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate (Messages copied).
	Req reasoning.Request
}

// Response is one scripted Generate result.
type Response struct {
	Reply string
	Err   error
}

// Provider is a mock implementation of reasoning.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Generate when Script is empty.
	Reply string

	// Err, if non-nil, is returned by Generate when Script is empty.
	Err error

	// Script, when non-empty, supplies one Response per call in order. Calls
	// past the end of the script fall back to Reply/Err.
	Script []Response

	// GenerateCalls records every call in order.
	GenerateCalls []GenerateCall

	calls int
}

// Generate records the call and returns the next scripted response.
func (p *Provider) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]reasoning.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})

	idx := p.calls
	p.calls++
	if idx < len(p.Script) {
		r := p.Script[idx]
		return r.Reply, r.Err
	}
	return p.Reply, p.Err
}

// CallCount returns the number of Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

// LastRequest returns the most recent request, or a zero Request if Generate
// has not been called. Thread-safe.
func (p *Provider) LastRequest() reasoning.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.GenerateCalls) == 0 {
		return reasoning.Request{}
	}
	return p.GenerateCalls[len(p.GenerateCalls)-1].Req
}

// Reset clears recorded calls and the script cursor. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
	p.calls = 0
}

// Ensure Provider implements reasoning.Provider at compile time.
var _ reasoning.Provider = (*Provider)(nil)
