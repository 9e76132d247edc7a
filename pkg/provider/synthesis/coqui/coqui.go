// Package coqui provides a synthesis provider backed by a locally-running
// standard Coqui TTS server (ghcr.io/coqui-ai/tts-cpu). Synthesis is one
// GET /api/tts call per reply; the server answers with a WAV file at the
// model's native sample rate, which the provider decodes and optionally
// resamples to a configured output rate.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithOutputSampleRate(16000),
//	)
//	clip, err := p.Synthesize(ctx, "Hello!", synthesis.Voice{})
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
)

const (
	apiTTSEndpoint  = "/api/tts"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

var _ synthesis.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language identifier sent to the TTS server for
// multi-lingual models. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputSampleRate configures the provider to resample synthesized PCM
// to the given rate. When 0 (default) clips are returned at the model's
// native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements synthesis.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	outputRate int
	httpClient *http.Client
}

// New creates a Provider targeting the TTS server at serverURL (e.g.,
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs one GET /api/tts call and decodes the WAV response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice synthesis.Voice) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, errors.New("coqui: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	lang := p.language
	if voice.Language != "" {
		lang = strings.SplitN(voice.Language, "-", 2)[0]
	}
	if lang != "" {
		q.Set("language_id", lang)
	}

	endpoint := p.serverURL + apiTTSEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audio.Clip{}, fmt.Errorf("coqui: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: read response body: %w", err)
	}

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: decode response: %w", err)
	}

	if p.outputRate > 0 && clip.Channels == 1 && clip.SampleRate != p.outputRate {
		clip.PCM = audio.ResampleMono(clip.PCM, clip.SampleRate, p.outputRate)
		clip.SampleRate = p.outputRate
	}
	return clip, nil
}
