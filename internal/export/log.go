package export

import (
	"context"
	"log/slog"

	"github.com/voicelinehq/voiceline/internal/call"
)

// Compile-time interface check.
var _ call.Exporter = (*LogExporter)(nil)

// LogExporter writes finished transcripts to the structured log. It is the
// exporter of last resort when no database is configured, so operators still
// get a per-call record.
type LogExporter struct {
	log *slog.Logger
}

// NewLogExporter creates a LogExporter. A nil logger uses [slog.Default].
func NewLogExporter(log *slog.Logger) *LogExporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogExporter{log: log}
}

// ExportSession logs one summary line per call and one line per turn.
func (e *LogExporter) ExportSession(ctx context.Context, rec call.Record) error {
	e.log.InfoContext(ctx, "call transcript",
		slog.String("session_id", rec.SessionID),
		slog.Time("started_at", rec.StartedAt),
		slog.Time("ended_at", rec.EndedAt),
		slog.Int("turns", len(rec.Turns)),
	)
	for i, turn := range rec.Turns {
		e.log.InfoContext(ctx, "call turn",
			slog.String("session_id", rec.SessionID),
			slog.Int("position", i),
			slog.String("role", string(turn.Role)),
			slog.String("text", turn.Text),
			slog.String("provider", turn.Provider),
		)
	}
	return nil
}
