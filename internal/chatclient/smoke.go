package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

// Smoke sends text to the peer and waits for the server to confirm it.
// Every outbound frame seen on the way is reported to out.
func Smoke(ctx context.Context, cfg Config, text string, out io.Writer) error {
	c := New(cfg, out, nil)

	wsURL, err := websocketURL(cfg.ServerURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := c.identify(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "identified as %s\n", c.selfID)

	if err := c.send(ctx, proto.InboundTypeJoinRoom, proto.RoomData{Room: core.RoomID(c.selfID, cfg.PeerID)}); err != nil {
		return err
	}
	clientID := utils.NewID()
	if err := c.send(ctx, proto.InboundTypeSend, proto.SendData{
		ReceiverID: cfg.PeerID,
		Content:    text,
		ClientID:   clientID,
	}); err != nil {
		return err
	}

	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if frame.Type == proto.OutboundTypeError && frame.Error != nil {
			return fmt.Errorf("server error: %s: %s", frame.Error.Code, frame.Error.Msg)
		}
		fmt.Fprintf(out, "received %s %s\n", frame.Type, frame.Event)

		if frame.Event != proto.EventMessageSent {
			continue
		}
		var m proto.Message
		if err := json.Unmarshal(frame.Data, &m); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		if m.ClientID != clientID {
			continue
		}
		fmt.Fprintf(out, "message %d stored at %s\n", m.ID, m.CreatedAt.Format("15:04:05"))
		return nil
	}
}
