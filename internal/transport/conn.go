package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/voicelinehq/voiceline/internal/call"
	"github.com/voicelinehq/voiceline/pkg/audio"
)

// Compile-time assertion that Conn satisfies the session transport interface.
var _ call.Conn = (*Conn)(nil)

// Conn adapts one WebSocket connection to the session's transport
// interface. Outbound binary frames carry synthesized PCM; outbound text
// frames carry JSON status events. The session goroutine is the only
// writer, so no write lock is needed.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger
}

func newConn(ws *websocket.Conn, log *slog.Logger) *Conn {
	return &Conn{ws: ws, log: log}
}

// SendAudio writes the clip's PCM as a single binary frame.
func (c *Conn) SendAudio(ctx context.Context, clip audio.Clip) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, clip.PCM); err != nil {
		return fmt.Errorf("transport: write audio: %w", err)
	}
	return nil
}

// SendEvent writes ev as a JSON text frame.
func (c *Conn) SendEvent(ctx context.Context, ev call.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("transport: marshal event: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write event: %w", err)
	}
	return nil
}

// controlMessage is the inbound JSON control frame shape.
type controlMessage struct {
	Type string `json:"type"`
}

// readLoop pumps inbound frames into the session: binary frames are caller
// PCM, text frames are control messages. It returns when the connection
// closes, ctx is cancelled, or the session ends.
func (c *Conn) readLoop(ctx context.Context, sess *call.Session) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if err := sess.PushFrame(data); err != nil {
				return err
			}
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.DebugContext(ctx, "unparseable control message", slog.Any("error", err))
				continue
			}
			if err := sess.Control(msg.Type); err != nil {
				return err
			}
		}
	}
}
