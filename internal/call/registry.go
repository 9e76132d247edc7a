package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicelinehq/voiceline/internal/agent"
	"github.com/voicelinehq/voiceline/internal/observe"
	"github.com/voicelinehq/voiceline/internal/vad"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
)

// exportTimeout bounds the background export of one retired session.
const exportTimeout = 10 * time.Second

// Record is the finished transcript of one session as handed to the
// exporter.
type Record struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Turns     []Turn    `json:"turns"`
}

// Exporter persists finished session transcripts. Implementations must be
// safe for concurrent use; export runs off the request path and a failure
// never affects the call.
type Exporter interface {
	ExportSession(ctx context.Context, rec Record) error
}

// RegistryConfig carries everything sessions share: the provider pipeline,
// the agent persona, and detector tuning.
type RegistryConfig struct {
	Pipeline  *Pipeline
	Script    agent.Script
	Catalogue *agent.Catalogue
	VAD       vad.Config
	Voice     synthesis.Voice

	// MaxHistory, FrameBuffer, and ListenTimeout are passed through to each
	// session; zero values use the session defaults.
	MaxHistory    int
	FrameBuffer   int
	ListenTimeout time.Duration

	// Exporter receives finished transcripts. Nil disables export.
	Exporter Exporter

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Registry tracks live sessions by ID. Create, Get, and Retire give a total
// order over session lifecycle; per-session state has its own lock nested
// inside the registry's.
type Registry struct {
	cfg     RegistryConfig
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session

	// exports lets Close wait for in-flight background exports.
	exports sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new idle session and returns it.
func (r *Registry) Create(ctx context.Context) *Session {
	id := uuid.NewString()

	r.mu.Lock()
	sess := NewSession(SessionConfig{
		ID:            id,
		Pipeline:      r.cfg.Pipeline,
		Script:        r.cfg.Script,
		Catalogue:     r.cfg.Catalogue,
		VAD:           r.cfg.VAD,
		Voice:         r.cfg.Voice,
		MaxHistory:    r.cfg.MaxHistory,
		FrameBuffer:   r.cfg.FrameBuffer,
		ListenTimeout: r.cfg.ListenTimeout,
		Logger:        r.log,
		Metrics:       r.metrics,
	})
	r.sessions[id] = sess
	r.mu.Unlock()

	r.metrics.ActiveSessions.Add(ctx, 1)
	r.log.InfoContext(ctx, "session created", slog.String("session_id", id))
	return sess
}

// Get returns the live session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UpdateProfile swaps the script, voice, and detector tuning used by
// sessions created after the call. Live sessions keep the profile they
// started with.
func (r *Registry) UpdateProfile(script agent.Script, voice synthesis.Voice, vadCfg vad.Config) {
	r.mu.Lock()
	r.cfg.Script = script
	r.cfg.Voice = voice
	r.cfg.VAD = vadCfg
	r.mu.Unlock()
}

// Retire ends the session, removes it from the registry, and hands its
// transcript to the exporter in the background. Retiring an unknown ID
// returns [ErrSessionNotFound].
func (r *Registry) Retire(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.End()
	<-sess.Done()
	r.metrics.ActiveSessions.Add(ctx, -1)

	rec := Record{
		SessionID: sess.ID(),
		StartedAt: sess.CreatedAt(),
		EndedAt:   sess.EndedAt(),
		Turns:     sess.History(),
	}
	r.log.InfoContext(ctx, "session retired",
		slog.String("session_id", id), slog.Int("turns", len(rec.Turns)))

	if r.cfg.Exporter == nil {
		return nil
	}
	r.exports.Add(1)
	go func() {
		defer r.exports.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
		defer cancel()
		if err := r.cfg.Exporter.ExportSession(ctx, rec); err != nil {
			r.log.ErrorContext(ctx, "session export failed",
				slog.String("session_id", rec.SessionID), slog.Any("error", err))
		}
	}()
	return nil
}

// Close retires every live session and waits for background exports to
// finish. Used during graceful shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Retire(ctx, id); err != nil && err != ErrSessionNotFound {
			return err
		}
	}

	finished := make(chan struct{})
	go func() {
		r.exports.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
