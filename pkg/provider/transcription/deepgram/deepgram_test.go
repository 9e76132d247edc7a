package deepgram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicelinehq/voiceline/pkg/audio"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription/deepgram"
)

const listenBody = `{
	"results": {
		"channels": [
			{
				"alternatives": [
					{"transcript": "I need to book an appointment.", "confidence": 0.98}
				]
			}
		]
	}
}`

func testClip() audio.Clip {
	return audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	_, err := deepgram.New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestTranscribe_ParsesTopAlternative(t *testing.T) {
	var gotAuth, gotCT, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listenBody))
	}))
	defer srv.Close()

	p, err := deepgram.New("key-123",
		deepgram.WithEndpoint(srv.URL),
		deepgram.WithModel("nova-3"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "I need to book an appointment." {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Token key-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCT != "audio/wav" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotModel != "nova-3" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestTranscribe_EmptyClip_ReturnsError(t *testing.T) {
	p, _ := deepgram.New("key")
	if _, err := p.Transcribe(context.Background(), audio.Clip{}); err == nil {
		t.Fatal("expected error for empty clip")
	}
}

func TestTranscribe_NoAlternatives_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	p, _ := deepgram.New("key", deepgram.WithEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), testClip()); err == nil {
		t.Fatal("expected error for empty channels")
	}
}

func TestTranscribe_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := deepgram.New("bad-key", deepgram.WithEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), testClip()); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}
