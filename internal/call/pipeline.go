package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/voicelinehq/voiceline/internal/observe"
	"github.com/voicelinehq/voiceline/internal/router"
	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription"
)

// Capability names used in metrics and failure errors.
const (
	CapabilityTranscription = "transcription"
	CapabilityReasoning     = "reasoning"
	CapabilitySynthesis     = "synthesis"
)

// Pipeline bundles the three provider chains a session runs a turn through,
// recording per-stage latency and per-provider outcomes as it goes.
//
// A single Pipeline is shared by every session; the chains and metrics it
// holds are safe for concurrent use.
type Pipeline struct {
	Transcription *router.Chain[transcription.Provider]
	Reasoning     *router.Chain[reasoning.Provider]
	Synthesis     *router.Chain[synthesis.Provider]

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// Log defaults to [slog.Default] when nil.
	Log *slog.Logger
}

func (p *Pipeline) metrics() *observe.Metrics {
	if p.Metrics != nil {
		return p.Metrics
	}
	return observe.DefaultMetrics()
}

func (p *Pipeline) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Transcribe runs the clip through the transcription chain. A provider that
// returns an empty transcript without an error counts as a failure so the
// chain moves on to the next provider.
func (p *Pipeline) Transcribe(ctx context.Context, clip audio.Clip) (string, string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()
	start := time.Now()
	text, provider, err := router.Invoke(ctx, p.Transcription,
		func(ctx context.Context, prov transcription.Provider) (string, error) {
			text, err := prov.Transcribe(ctx, clip)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(text) == "" {
				return "", router.ErrEmptyResult
			}
			return text, nil
		})
	p.metrics().TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	p.recordOutcome(ctx, CapabilityTranscription, provider, err)
	return text, provider, err
}

// Generate runs the conversation through the reasoning chain and returns the
// agent's reply text.
func (p *Pipeline) Generate(ctx context.Context, req reasoning.Request) (string, string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.generate")
	defer span.End()
	start := time.Now()
	reply, provider, err := router.Invoke(ctx, p.Reasoning,
		func(ctx context.Context, prov reasoning.Provider) (string, error) {
			reply, err := prov.Generate(ctx, req)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(reply) == "" {
				return "", router.ErrEmptyResult
			}
			return reply, nil
		})
	p.metrics().ReasoningDuration.Record(ctx, time.Since(start).Seconds())
	p.recordOutcome(ctx, CapabilityReasoning, provider, err)
	return reply, provider, err
}

// Synthesize runs text through the synthesis chain and returns the spoken
// clip.
func (p *Pipeline) Synthesize(ctx context.Context, text string, voice synthesis.Voice) (audio.Clip, string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize")
	defer span.End()
	start := time.Now()
	clip, provider, err := router.Invoke(ctx, p.Synthesis,
		func(ctx context.Context, prov synthesis.Provider) (audio.Clip, error) {
			clip, err := prov.Synthesize(ctx, text, voice)
			if err != nil {
				return audio.Clip{}, err
			}
			if clip.Empty() {
				return audio.Clip{}, router.ErrEmptyResult
			}
			return clip, nil
		})
	p.metrics().SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	p.recordOutcome(ctx, CapabilitySynthesis, provider, err)
	return clip, provider, err
}

// recordOutcome translates an Invoke result into provider request and error
// counter increments.
func (p *Pipeline) recordOutcome(ctx context.Context, capability, provider string, err error) {
	m := p.metrics()
	if err == nil {
		m.RecordProviderRequest(ctx, provider, capability, "ok")
		return
	}
	var failure *router.Failure
	if errors.As(err, &failure) {
		for _, a := range failure.Attempts {
			m.RecordProviderRequest(ctx, a.Provider, capability, "error")
			m.RecordProviderError(ctx, a.Provider, capability)
		}
		return
	}
	// Context cancellation and other non-chain errors have no provider to
	// charge.
	p.log().DebugContext(ctx, "pipeline stage aborted",
		slog.String("capability", capability), slog.Any("error", err))
}
