package call

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicelinehq/voiceline/internal/agent"
	"github.com/voicelinehq/voiceline/internal/router"
	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
	reasoningmock "github.com/voicelinehq/voiceline/pkg/provider/reasoning/mock"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
	synthesismock "github.com/voicelinehq/voiceline/pkg/provider/synthesis/mock"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription"
	transcriptionmock "github.com/voicelinehq/voiceline/pkg/provider/transcription/mock"
)

var errBoom = errors.New("boom")

// pcmFrame builds a 20 ms mono 16 kHz frame whose every sample is amp,
// giving an RMS of |amp| exactly.
func pcmFrame(amp int16) []byte {
	const samples = 16000 * 20 / 1000
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amp))
	}
	return frame
}

func clip640() audio.Clip {
	return audio.Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}
}

// fakeConn records everything the session sends and auto-confirms playback
// so the speak path does not stall on the grace timer.
type fakeConn struct {
	mu       sync.Mutex
	sess     *Session
	events   []Event
	clips    []audio.Clip
	audioErr error
}

func (c *fakeConn) SendAudio(_ context.Context, clip audio.Clip) error {
	c.mu.Lock()
	c.clips = append(c.clips, clip)
	err := c.audioErr
	sess := c.sess
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if sess != nil {
		_ = sess.Control(ControlPlaybackComplete)
	}
	return nil
}

func (c *fakeConn) SendEvent(_ context.Context, ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) eventCount(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) hasErrorKind(kind ErrorKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Type == EventError && ev.Kind == string(kind) {
			return true
		}
	}
	return false
}

func (c *fakeConn) clipCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

// testPipeline builds a pipeline with one provider per capability.
func testPipeline(stt transcription.Provider, llm reasoning.Provider, tts synthesis.Provider) *Pipeline {
	sttChain := router.NewChain[transcription.Provider](router.Config{Capability: CapabilityTranscription, Timeout: time.Second})
	sttChain.Add("primary", stt)
	llmChain := router.NewChain[reasoning.Provider](router.Config{Capability: CapabilityReasoning, Timeout: time.Second})
	llmChain.Add("primary", llm)
	ttsChain := router.NewChain[synthesis.Provider](router.Config{Capability: CapabilitySynthesis, Timeout: time.Second})
	ttsChain.Add("primary", tts)
	return &Pipeline{Transcription: sttChain, Reasoning: llmChain, Synthesis: ttsChain}
}

// startSession attaches a session to a fakeConn and returns a channel with
// Attach's result.
func startSession(t *testing.T, sess *Session, conn *fakeConn) <-chan error {
	t.Helper()
	conn.mu.Lock()
	conn.sess = sess
	conn.mu.Unlock()
	result := make(chan error, 1)
	go func() { result <- sess.Attach(context.Background(), conn) }()
	t.Cleanup(func() {
		sess.End()
		select {
		case <-sess.Done():
		case <-time.After(5 * time.Second):
			t.Error("session did not end")
		}
	})
	return result
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// pushTurn feeds speechMs of speech followed by silenceMs of silence in
// 20 ms frames.
func pushTurn(t *testing.T, sess *Session, speechMs, silenceMs int) {
	t.Helper()
	for i := 0; i < speechMs/20; i++ {
		if err := sess.PushFrame(pcmFrame(3000)); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
	}
	for i := 0; i < silenceMs/20; i++ {
		if err := sess.PushFrame(pcmFrame(0)); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
	}
}

func TestSession_GreetingSpokenBeforeListening(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "hello"}
	llm := &reasoningmock.Provider{Reply: "hi there"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{
		ID:       "s1",
		Pipeline: testPipeline(stt, llm, tts),
		Script:   agent.Script{OrgName: "Riverside Clinic"},
	})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Role != RoleAgent {
		t.Errorf("history[0].Role = %q, want %q", history[0].Role, RoleAgent)
	}
	texts := tts.SpokenTexts()
	if len(texts) != 1 || texts[0] != history[0].Text {
		t.Errorf("synthesized texts = %v, want the greeting", texts)
	}
	if conn.clipCount() != 1 {
		t.Errorf("audio clips sent = %d, want 1", conn.clipCount())
	}
	if conn.eventCount(EventListening) == 0 {
		t.Error("no listening event sent")
	}
}

func TestSession_FullTurnWithTranscriptionFallback(t *testing.T) {
	// Primary transcription provider fails; the secondary returns the
	// transcript. The session should complete the turn on the fallback.
	sttPrimary := &transcriptionmock.Provider{Err: errBoom}
	sttBackup := &transcriptionmock.Provider{Text: "I need an appointment"}
	llm := &reasoningmock.Provider{Reply: "Of course, what day works for you?"}
	tts := &synthesismock.Provider{}

	sttChain := router.NewChain[transcription.Provider](router.Config{Capability: CapabilityTranscription, Timeout: time.Second})
	sttChain.Add("alpha", sttPrimary)
	sttChain.Add("beta", sttBackup)
	llmChain := router.NewChain[reasoning.Provider](router.Config{Capability: CapabilityReasoning, Timeout: time.Second})
	llmChain.Add("primary", llm)
	ttsChain := router.NewChain[synthesis.Provider](router.Config{Capability: CapabilitySynthesis, Timeout: time.Second})
	ttsChain.Add("primary", tts)

	sess := NewSession(SessionConfig{
		ID:       "s1",
		Pipeline: &Pipeline{Transcription: sttChain, Reasoning: llmChain, Synthesis: ttsChain},
	})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })

	// Two seconds of speech, then enough silence to finalize the turn.
	pushTurn(t, sess, 2000, 1600)

	waitFor(t, "completed turn", func() bool { return len(sess.History()) == 3 })

	if got := conn.eventCount(EventTurnEnded); got != 1 {
		t.Errorf("turn_ended events = %d, want 1", got)
	}

	history := sess.History()
	want := []struct {
		role Role
		text string
	}{
		{RoleAgent, sess.script.Greeting},
		{RoleCaller, "I need an appointment"},
		{RoleAgent, "Of course, what day works for you?"},
	}
	for i, w := range want {
		if history[i].Role != w.role || history[i].Text != w.text {
			t.Errorf("history[%d] = {%s %q}, want {%s %q}",
				i, history[i].Role, history[i].Text, w.role, w.text)
		}
	}
	if history[1].Provider != "beta" {
		t.Errorf("caller turn provider = %q, want %q", history[1].Provider, "beta")
	}
	if sttPrimary.CallCount() != 1 || sttBackup.CallCount() != 1 {
		t.Errorf("stt calls = %d/%d, want 1/1", sttPrimary.CallCount(), sttBackup.CallCount())
	}

	// The reasoning provider saw the greeting and the caller utterance.
	req := llm.LastRequest()
	if len(req.Messages) != 2 {
		t.Fatalf("reasoning messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[1].Role != reasoning.RoleUser || req.Messages[1].Content != "I need an appointment" {
		t.Errorf("last reasoning message = {%s %q}", req.Messages[1].Role, req.Messages[1].Content)
	}
	if req.SystemPrompt == "" {
		t.Error("reasoning request has no system prompt")
	}
}

func TestSession_NoiseIsDiscarded(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "should not be reached"}
	llm := &reasoningmock.Provider{Reply: "hi"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })

	// A 100 ms burst is below the minimum speech duration; no turn should
	// reach the pipeline.
	pushTurn(t, sess, 100, 1600)

	// Then a real turn to prove the session is still live.
	pushTurn(t, sess, 1000, 1600)
	waitFor(t, "completed turn", func() bool { return len(sess.History()) == 3 })

	if stt.CallCount() != 1 {
		t.Errorf("stt calls = %d, want 1 (noise burst must not transcribe)", stt.CallCount())
	}
}

func TestSession_EndPhraseSpeaksFarewellAndEnds(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "thanks, goodbye"}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	result := startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 1000, 1600)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Attach returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after end phrase")
	}

	if sess.State() != StateEnded {
		t.Errorf("state = %s, want ended", sess.State())
	}
	if llm.CallCount() != 0 {
		t.Errorf("reasoning calls = %d, want 0", llm.CallCount())
	}
	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[2].Text != sess.script.Farewell {
		t.Errorf("last turn = %q, want farewell", history[2].Text)
	}
}

func TestSession_TranscriptionExhaustionSpeaksRepeatPrompt(t *testing.T) {
	stt := &transcriptionmock.Provider{Err: errBoom}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 1000, 1600)

	waitFor(t, "repeat prompt", func() bool { return tts.CallCount() >= 2 })

	texts := tts.SpokenTexts()
	if texts[1] != sess.script.RepeatPrompt {
		t.Errorf("spoken text = %q, want repeat prompt", texts[1])
	}
	if !conn.hasErrorKind(KindTranscriptionFailed) {
		t.Error("no transcription_failed error event")
	}
	// The failed turn leaves no trace in the history.
	if got := len(sess.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
	// The session recovers to listening.
	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
}

func TestSession_ReasoningExhaustionSpeaksApology(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "what are your hours"}
	llm := &reasoningmock.Provider{Err: errBoom}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 1000, 1600)

	waitFor(t, "apology", func() bool { return tts.CallCount() >= 2 })

	texts := tts.SpokenTexts()
	if texts[1] != sess.script.Apology {
		t.Errorf("spoken text = %q, want apology", texts[1])
	}
	if !conn.hasErrorKind(KindReasoningFailed) {
		t.Error("no reasoning_failed error event")
	}
	// The caller's turn is kept even though no reply was generated.
	history := sess.History()
	if len(history) != 2 || history[1].Text != "what are your hours" {
		t.Errorf("history = %+v, want greeting plus caller turn", history)
	}
	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
}

func TestSession_GreetingSynthesisFailureEndsCall(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "unused"}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{Err: errBoom}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	conn.mu.Lock()
	conn.sess = sess
	conn.mu.Unlock()

	err := sess.Attach(context.Background(), conn)
	if err == nil {
		t.Fatal("Attach succeeded despite unsynthesizable greeting")
	}
	if sess.State() != StateEnded {
		t.Errorf("state = %s, want ended", sess.State())
	}
	if !conn.hasErrorKind(KindSynthesisFailed) {
		t.Error("no synthesis_failed error event")
	}
}

func TestSession_ReplySynthesisFailureDeliversTextOnly(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "what are your hours"}
	llm := &reasoningmock.Provider{Reply: "We are open nine to five."}
	tts := &synthesismock.Provider{Script: []synthesismock.Response{
		{Clip: clip640()},  // greeting
		{Err: errBoom},     // reply
	}}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 1000, 1600)

	waitFor(t, "completed turn", func() bool { return len(sess.History()) == 3 })

	if !conn.hasErrorKind(KindSynthesisFailed) {
		t.Error("no synthesis_failed error event")
	}
	// The reply still reaches the client as a transcript event.
	conn.mu.Lock()
	found := false
	for _, ev := range conn.events {
		if ev.Type == EventTranscript && ev.Role == string(RoleAgent) && ev.Text == "We are open nine to five." {
			found = true
		}
	}
	conn.mu.Unlock()
	if !found {
		t.Error("reply transcript event not sent")
	}
	// Only the greeting produced audio.
	if conn.clipCount() != 1 {
		t.Errorf("audio clips sent = %d, want 1", conn.clipCount())
	}
	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
}

// slowReasoner blocks Generate until released, to hold the session out of
// the listening state.
type slowReasoner struct {
	release chan struct{}
	reply   string
}

func (s *slowReasoner) Generate(ctx context.Context, _ reasoning.Request) (string, error) {
	select {
	case <-s.release:
		return s.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSession_SingleTurnInFlight(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "first utterance"}
	llm := &slowReasoner{release: make(chan struct{}), reply: "done"}
	tts := &synthesismock.Provider{}

	llmChain := router.NewChain[reasoning.Provider](router.Config{Capability: CapabilityReasoning, Timeout: 10 * time.Second})
	llmChain.Add("slow", llm)
	sttChain := router.NewChain[transcription.Provider](router.Config{Capability: CapabilityTranscription, Timeout: time.Second})
	sttChain.Add("primary", stt)
	ttsChain := router.NewChain[synthesis.Provider](router.Config{Capability: CapabilitySynthesis, Timeout: time.Second})
	ttsChain.Add("primary", tts)

	sess := NewSession(SessionConfig{
		ID:       "s1",
		Pipeline: &Pipeline{Transcription: sttChain, Reasoning: llmChain, Synthesis: ttsChain},
	})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 1000, 1600)

	waitFor(t, "reasoning state", func() bool { return sess.State() == StateReasoning })

	// Audio arriving while the turn is in flight queues; it must not start
	// a second turn until the first completes.
	pushTurn(t, sess, 1000, 1600)
	if stt.CallCount() != 1 {
		t.Fatalf("stt calls while mid-turn = %d, want 1", stt.CallCount())
	}

	close(llm.release)
	waitFor(t, "completed turn", func() bool { return len(sess.History()) >= 3 })

	// Back in listening, the queued utterance becomes the next turn.
	waitFor(t, "queued turn transcribed", func() bool { return stt.CallCount() == 2 })
}

func TestSession_HangupSpeaksFarewell(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "unused"}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	result := startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	if err := sess.Control(ControlHangup); err != nil {
		t.Fatalf("Control: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Attach returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on hangup")
	}

	texts := tts.SpokenTexts()
	if len(texts) != 2 || texts[1] != sess.script.Farewell {
		t.Errorf("spoken texts = %v, want greeting then farewell", texts)
	}
}

func TestSession_SecondAttachRejected(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "unused"}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	conn := &fakeConn{}
	startSession(t, sess, conn)
	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })

	if err := sess.Attach(context.Background(), &fakeConn{}); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Attach error = %v, want ErrAlreadyAttached", err)
	}
}

func TestSession_PushFrameAfterEnd(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "unused"}
	llm := &reasoningmock.Provider{Reply: "unused"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{ID: "s1", Pipeline: testPipeline(stt, llm, tts)})
	sess.End()
	<-sess.Done()

	if err := sess.PushFrame(pcmFrame(3000)); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("PushFrame error = %v, want ErrSessionEnded", err)
	}
	if err := sess.Control(ControlHangup); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Control error = %v, want ErrSessionEnded", err)
	}
}

func TestState_Transitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateSynthesizing, true},
		{StateIdle, StateListening, false},
		{StateListening, StateFinalizing, true},
		{StateListening, StateSynthesizing, true},
		{StateListening, StateReasoning, false},
		{StateFinalizing, StateTranscribing, true},
		{StateFinalizing, StateListening, true},
		{StateTranscribing, StateReasoning, true},
		{StateTranscribing, StateSynthesizing, true},
		{StateReasoning, StateSynthesizing, true},
		{StateSynthesizing, StateSpeaking, true},
		{StateSynthesizing, StateListening, true},
		{StateSpeaking, StateListening, true},
		{StateSpeaking, StateTranscribing, false},
		{StateListening, StateEnded, true},
		{StateSpeaking, StateEnded, true},
		{StateEnded, StateListening, false},
		{StateEnded, StateEnded, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}


func TestSession_CallerTurnResolvesService(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "I would like a dental cleaning please"}
	llm := &reasoningmock.Provider{Reply: "Certainly, when suits you?"}
	tts := &synthesismock.Provider{}

	sess := NewSession(SessionConfig{
		ID:        "s-svc",
		Pipeline:  testPipeline(stt, llm, tts),
		Script:    agent.Script{OrgName: "Riverside Clinic"},
		Catalogue: agent.NewCatalogue(nil),
	})
	conn := &fakeConn{}
	startSession(t, sess, conn)

	waitFor(t, "listening state", func() bool { return sess.State() == StateListening })
	pushTurn(t, sess, 600, 1600)
	waitFor(t, "completed turn", func() bool { return len(sess.History()) == 3 })

	history := sess.History()
	if history[1].Role != RoleCaller {
		t.Fatalf("history[1].Role = %q, want %q", history[1].Role, RoleCaller)
	}
	if history[1].Service != "Dental Cleaning" {
		t.Errorf("history[1].Service = %q, want %q", history[1].Service, "Dental Cleaning")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	found := false
	for _, ev := range conn.events {
		if ev.Type == EventTranscript && ev.Role == string(RoleCaller) {
			found = true
			if ev.Service != "Dental Cleaning" {
				t.Errorf("transcript event service = %q, want %q", ev.Service, "Dental Cleaning")
			}
		}
	}
	if !found {
		t.Error("no caller transcript event sent")
	}
}

func TestSession_ListenTimerRaceDoesNotWedge(t *testing.T) {
	stt := &transcriptionmock.Provider{Text: "hello"}
	llm := &reasoningmock.Provider{Reply: "hi"}
	tts := &synthesismock.Provider{}

	// A listen timeout in the same order as the frame interval makes the
	// idle timer expire while frames are being handled, which must not
	// leave the run loop stuck on a timer channel that will never fire.
	sess := NewSession(SessionConfig{
		ID:            "s-timer",
		Pipeline:      testPipeline(stt, llm, tts),
		Script:        agent.Script{OrgName: "Riverside Clinic"},
		ListenTimeout: time.Millisecond,
	})
	conn := &fakeConn{}
	result := startSession(t, sess, conn)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := sess.PushFrame(pcmFrame(0)); errors.Is(err, ErrSessionEnded) {
			break
		}
	}

	select {
	case <-result:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish after listen timeout")
	}
	if sess.State() != StateEnded {
		t.Errorf("state = %v, want %v", sess.State(), StateEnded)
	}
}
