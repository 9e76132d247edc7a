package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelinehq/voiceline/internal/agent"
	"github.com/voicelinehq/voiceline/internal/observe"
	"github.com/voicelinehq/voiceline/internal/vad"
	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
)

// Session defaults.
const (
	// DefaultMaxHistory bounds the number of turns handed to the reasoning
	// chain as conversation context.
	DefaultMaxHistory = 50

	// DefaultFrameBuffer is the capacity of the inbound frame queue. At
	// 20 ms frames this is roughly five seconds of audio headroom.
	DefaultFrameBuffer = 256

	// DefaultListenTimeout is how long the session waits for caller audio
	// before declaring capture unavailable and ending the call.
	DefaultListenTimeout = 60 * time.Second

	// playbackGrace is added to the clip duration when waiting for the
	// client's playback-complete signal, so a client that never sends one
	// cannot wedge the session.
	playbackGrace = 2 * time.Second
)

// errHangup signals that the client requested the call to end.
var errHangup = errors.New("call: client hangup")

// SessionConfig assembles a [Session]. Pipeline is required; everything else
// has a usable default.
type SessionConfig struct {
	ID        string
	Pipeline  *Pipeline
	Script    agent.Script
	Catalogue *agent.Catalogue
	VAD       vad.Config
	Voice     synthesis.Voice

	// MaxHistory bounds the reasoning context window in turns. Defaults to
	// [DefaultMaxHistory].
	MaxHistory int

	// FrameBuffer is the inbound frame queue capacity. Defaults to
	// [DefaultFrameBuffer].
	FrameBuffer int

	// ListenTimeout is the caller-audio idle limit. Defaults to
	// [DefaultListenTimeout].
	ListenTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Session runs one call. All pipeline work happens on the single goroutine
// inside [Session.Attach]; the transport feeds it through [Session.PushFrame]
// and [Session.Control] from its own read loop. At most one turn is in
// flight at a time: frames arriving while a turn is being processed queue
// up and reach the detector once the session returns to listening.
type Session struct {
	id            string
	pipeline      *Pipeline
	script        agent.Script
	catalogue     *agent.Catalogue
	voice         synthesis.Voice
	maxHistory    int
	listenTimeout time.Duration
	log           *slog.Logger
	metrics       *observe.Metrics

	detector *vad.Detector
	frames   chan []byte
	control  chan string

	mu       sync.Mutex
	state    State
	history  []Turn
	conn     Conn
	attached bool
	cancel   context.CancelFunc
	endedAt  time.Time

	createdAt time.Time
	endOnce   sync.Once
	done      chan struct{}
}

// NewSession creates a session in [StateIdle]. It does nothing until a
// transport attaches.
func NewSession(cfg SessionConfig) *Session {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = DefaultFrameBuffer
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = DefaultListenTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		id:            cfg.ID,
		pipeline:      cfg.Pipeline,
		script:        cfg.Script.WithDefaults(),
		catalogue:     cfg.Catalogue,
		voice:         cfg.Voice,
		maxHistory:    cfg.MaxHistory,
		listenTimeout: cfg.ListenTimeout,
		log:           log.With(slog.String("session_id", cfg.ID)),
		metrics:       metrics,
		detector:      vad.New(cfg.VAD),
		frames:        make(chan []byte, cfg.FrameBuffer),
		control:       make(chan string, 4),
		state:         StateIdle,
		createdAt:     time.Now(),
		done:          make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EndedAt returns when the session reached [StateEnded], or the zero time
// while it is still live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the recorded turns in conversation order.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Done is closed when the session reaches [StateEnded].
func (s *Session) Done() <-chan struct{} { return s.done }

// PushFrame hands one inbound PCM frame to the session. Frames arriving
// while a turn is in flight queue up and reach the detector once the
// session returns to listening. The queue is bounded; when it is full the
// frame is dropped rather than blocking the transport read loop. Returns
// [ErrSessionEnded] once the session has ended.
func (s *Session) PushFrame(frame []byte) error {
	if s.State() == StateEnded {
		return ErrSessionEnded
	}
	select {
	case s.frames <- frame:
	default:
	}
	return nil
}

// Control delivers one client control message (playback_complete, hangup).
func (s *Session) Control(msg string) error {
	if s.State() == StateEnded {
		return ErrSessionEnded
	}
	select {
	case s.control <- msg:
	default:
	}
	return nil
}

// End terminates the session from outside the run loop. Safe to call at any
// time, including before a transport has attached and more than once.
func (s *Session) End() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	s.finish()
}

// Attach binds the transport to the session and runs the conversation loop
// until the call ends. It blocks for the lifetime of the call and may be
// called at most once.
func (s *Session) Attach(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.attached {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.attached = true
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	defer s.finish()

	err := s.run(ctx)
	s.sendEvent(context.WithoutCancel(ctx), Event{Type: EventEnded})
	switch {
	case err == nil, errors.Is(err, errHangup), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// finish moves the session to its terminal state exactly once. Queued
// frames are discarded; nothing will read them after this.
func (s *Session) finish() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		s.endedAt = time.Now()
		s.mu.Unlock()
		s.drainFrames()
		close(s.done)
	})
}

// run is the conversation loop: greet, then alternate caller and agent turns
// until the caller is done or something fatal happens.
func (s *Session) run(ctx context.Context) error {
	// The greeting is itself a synthesized turn. Failing to speak it means
	// the call cannot proceed.
	start := time.Now()
	provider, err := s.speak(ctx, s.script.Greeting, true)
	if err != nil {
		return err
	}
	s.appendTurn(ctx, Turn{
		Role: RoleAgent, Text: s.script.Greeting, Provider: provider,
		StartedAt: start, EndedAt: time.Now(),
	}, "ok")

	for {
		clip, turnStart, err := s.listen(ctx)
		switch {
		case errors.Is(err, errHangup):
			return s.farewell(ctx)
		case err != nil:
			return err
		}

		if err := s.callerTurn(ctx, clip, turnStart); err != nil {
			return err
		}
		if s.State() == StateEnded {
			return nil
		}
	}
}

// listen feeds inbound frames to the endpoint detector until a turn
// finalizes. It returns the turn's audio and the time speech began.
func (s *Session) listen(ctx context.Context) (audio.Clip, time.Time, error) {
	s.transition(StateListening)
	s.detector.Reset()
	s.sendEvent(ctx, Event{Type: EventListening})

	idle := time.NewTimer(s.listenTimeout)
	defer idle.Stop()

	var turnStart time.Time
	for {
		select {
		case <-ctx.Done():
			return audio.Clip{}, turnStart, ctx.Err()

		case msg := <-s.control:
			if msg == ControlHangup {
				return audio.Clip{}, turnStart, errHangup
			}

		case <-idle.C:
			s.sendEvent(ctx, Event{Type: EventError, Kind: string(KindCaptureUnavailable)})
			return audio.Clip{}, turnStart, fmt.Errorf("call: no caller audio for %s", s.listenTimeout)

		case frame := <-s.frames:
			switch s.detector.Feed(frame) {
			case vad.SignalTurnStarted:
				turnStart = time.Now()
				s.sendEvent(ctx, Event{Type: EventTurnStarted})

			case vad.SignalTurnEnded:
				s.sendEvent(ctx, Event{Type: EventTurnEnded})
				s.transition(StateFinalizing)
				return s.detector.TakeClip(), turnStart, nil

			case vad.SignalTurnDiscarded:
				s.log.DebugContext(ctx, "discarded sub-threshold turn")
			}
			idle.Reset(s.listenTimeout)
		}
	}
}

// callerTurn runs one finalized caller clip through the full pipeline:
// transcribe, reason, speak the reply. Provider exhaustion recovers back to
// listening with the scripted line for the failed stage; only transport loss
// or greeting-style fatality propagates as an error.
func (s *Session) callerTurn(ctx context.Context, clip audio.Clip, turnStart time.Time) error {
	s.transition(StateTranscribing)
	text, sttProvider, err := s.pipeline.Transcribe(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WarnContext(ctx, "transcription exhausted", slog.Any("error", err))
		s.sendEvent(ctx, Event{Type: EventError, Kind: string(KindTranscriptionFailed)})
		s.metrics.RecordTurn(ctx, string(RoleCaller), string(KindTranscriptionFailed))
		_, err := s.speak(ctx, s.script.RepeatPrompt, false)
		return err
	}

	var service string
	if s.catalogue != nil {
		if svc, score, ok := s.catalogue.Resolve(text); ok {
			service = svc.Name
			s.log.DebugContext(ctx, "service matched",
				slog.String("service", svc.Name), slog.Float64("score", score))
		}
	}
	s.appendTurn(ctx, Turn{
		Role: RoleCaller, Text: text, Provider: sttProvider, Service: service,
		StartedAt: turnStart, EndedAt: time.Now(),
	}, "ok")
	s.sendEvent(ctx, Event{Type: EventTranscript, Role: string(RoleCaller), Text: text, Service: service})

	if s.script.ShouldEndCall(text) {
		if err := s.farewell(ctx); err != nil {
			return err
		}
		s.finish()
		return nil
	}

	s.transition(StateReasoning)
	reply, llmProvider, err := s.pipeline.Generate(ctx, s.reasoningRequest())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WarnContext(ctx, "reasoning exhausted", slog.Any("error", err))
		s.sendEvent(ctx, Event{Type: EventError, Kind: string(KindReasoningFailed)})
		s.metrics.RecordTurn(ctx, string(RoleAgent), string(KindReasoningFailed))
		_, err := s.speak(ctx, s.script.Apology, false)
		return err
	}

	replyStart := time.Now()
	ttsProvider, err := s.speak(ctx, reply, false)
	if err != nil {
		return err
	}
	s.appendTurn(ctx, Turn{
		Role: RoleAgent, Text: reply, Provider: llmProvider,
		StartedAt: replyStart, EndedAt: time.Now(),
	}, "ok")

	s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	s.log.InfoContext(ctx, "turn completed",
		slog.String("stt_provider", sttProvider),
		slog.String("llm_provider", llmProvider),
		slog.String("tts_provider", ttsProvider),
		slog.Duration("duration", time.Since(turnStart)),
	)
	return nil
}

// farewell speaks the closing line. Synthesis failure here is not fatal; the
// call is ending either way.
func (s *Session) farewell(ctx context.Context) error {
	start := time.Now()
	provider, err := s.speak(ctx, s.script.Farewell, false)
	if err != nil {
		return err
	}
	s.appendTurn(ctx, Turn{
		Role: RoleAgent, Text: s.script.Farewell, Provider: provider,
		StartedAt: start, EndedAt: time.Now(),
	}, "ok")
	return nil
}

// speak synthesizes text and plays it to the caller, blocking until the
// client confirms playback (or the grace timer fires). When synthesis is
// exhausted the text is still delivered as a transcript event; fatal marks
// the turn as one the call cannot survive without (the greeting).
func (s *Session) speak(ctx context.Context, text string, fatal bool) (string, error) {
	s.transition(StateSynthesizing)
	clip, provider, err := s.pipeline.Synthesize(ctx, text, s.voice)
	if err != nil {
		if ctx.Err() != nil {
			return provider, ctx.Err()
		}
		s.log.WarnContext(ctx, "synthesis exhausted", slog.Any("error", err))
		s.sendEvent(ctx, Event{Type: EventError, Kind: string(KindSynthesisFailed)})
		if fatal {
			return provider, fmt.Errorf("call: greeting synthesis: %w", err)
		}
		s.sendEvent(ctx, Event{Type: EventTranscript, Role: string(RoleAgent), Text: text})
		return provider, nil
	}

	s.sendEvent(ctx, Event{Type: EventTranscript, Role: string(RoleAgent), Text: text})
	s.transition(StateSpeaking)
	s.sendEvent(ctx, Event{Type: EventSpeaking})
	if err := s.conn.SendAudio(ctx, clip); err != nil {
		s.metrics.RecordTurn(ctx, string(RoleAgent), string(KindTransportClosed))
		return provider, fmt.Errorf("call: send audio: %w", err)
	}
	return provider, s.waitPlayback(ctx, clip.Duration())
}

// waitPlayback blocks until the client reports playback completion, the
// grace timer expires, or the call is torn down.
func (s *Session) waitPlayback(ctx context.Context, clipDur time.Duration) error {
	timer := time.NewTimer(clipDur + playbackGrace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.log.DebugContext(ctx, "playback confirmation timed out", slog.Duration("clip", clipDur))
			return nil
		case msg := <-s.control:
			switch msg {
			case ControlPlaybackComplete:
				return nil
			case ControlHangup:
				return errHangup
			}
		}
	}
}

// reasoningRequest builds the provider request from the scripted system
// prompt and the most recent history window.
func (s *Session) reasoningRequest() reasoning.Request {
	s.mu.Lock()
	turns := s.history
	if len(turns) > s.maxHistory {
		turns = turns[len(turns)-s.maxHistory:]
	}
	msgs := make([]reasoning.Message, 0, len(turns))
	for _, t := range turns {
		role := reasoning.RoleUser
		if t.Role == RoleAgent {
			role = reasoning.RoleAssistant
		}
		msgs = append(msgs, reasoning.Message{Role: role, Content: t.Text})
	}
	s.mu.Unlock()
	return reasoning.Request{
		SystemPrompt: s.script.SystemPrompt(s.catalogue),
		Messages:     msgs,
	}
}

// appendTurn records a completed turn in conversation order.
func (s *Session) appendTurn(ctx context.Context, t Turn, outcome string) {
	s.mu.Lock()
	s.history = append(s.history, t)
	s.mu.Unlock()
	s.metrics.RecordTurn(ctx, string(t.Role), outcome)
}

// transition moves the session to next, logging any step the state machine
// does not allow. Once ended, the state never changes again.
func (s *Session) transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	if !s.state.CanTransition(next) {
		s.log.Warn("unexpected state transition",
			slog.String("from", s.state.String()), slog.String("to", next.String()))
	}
	s.state = next
}

// sendEvent pushes one event to the client; delivery failures are logged,
// not fatal, since the session learns about a dead transport from SendAudio
// or the read loop.
func (s *Session) sendEvent(ctx context.Context, ev Event) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendEvent(ctx, ev); err != nil {
		s.log.DebugContext(ctx, "event delivery failed",
			slog.String("event", ev.Type), slog.Any("error", err))
	}
}

// drainFrames empties the frame queue.
func (s *Session) drainFrames() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}
