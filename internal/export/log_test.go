package export_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/voicelinehq/voiceline/internal/call"
	"github.com/voicelinehq/voiceline/internal/export"
)

func TestLogExporter_WritesSummaryAndTurns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	exp := export.NewLogExporter(log)

	now := time.Now()
	rec := call.Record{
		SessionID: "sess-1",
		StartedAt: now.Add(-time.Minute),
		EndedAt:   now,
		Turns: []call.Turn{
			{Role: call.RoleAgent, Text: "Hello, how can I help?"},
			{Role: call.RoleCaller, Text: "I need an appointment", Provider: "whisper"},
		},
	}
	if err := exp.ExportSession(context.Background(), rec); err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "call transcript") {
		t.Errorf("missing summary line in output:\n%s", out)
	}
	if got := strings.Count(out, "call turn"); got != 2 {
		t.Errorf("turn lines = %d, want 2", got)
	}
	for _, want := range []string{"sess-1", "I need an appointment", "whisper", "turns=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewLogExporter_NilLogger(t *testing.T) {
	t.Parallel()
	exp := export.NewLogExporter(nil)
	if err := exp.ExportSession(context.Background(), call.Record{SessionID: "x"}); err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
}
