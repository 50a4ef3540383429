package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub   *core.Hub
	coord *delivery.Coordinator
	auth  *auth.Service
	cfg   *config.Config
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(
	hub *core.Hub,
	coord *delivery.Coordinator,
	authService *auth.Service,
	cfg *config.Config,
	logger *zerolog.Logger,
) stdhttp.Handler {
	return &WSHandler{hub: hub, coord: coord, auth: authService, cfg: cfg, log: logger}
}

// wsSession is the read loop's view of one connection.
type wsSession struct {
	conn    *websocket.Conn
	client  *core.Client
	userID  string
	limiter *rateLimiter
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewID())
	h.hub.Connect(client)
	defer h.hub.Disconnect(client)

	sess := &wsSession{
		conn:    conn,
		client:  client,
		limiter: newRateLimiter(h.cfg.MaxSendsPerMinute),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, sess *wsSession) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, sess.conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", sess.client.ID).Msg("read ws inbound")
			return err
		}

		if protoErr := h.handleInbound(ctx, sess, inbound); protoErr != nil {
			if err := wsjson.Write(ctx, sess.conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, sess *wsSession, inbound proto.Inbound) *proto.Error {
	switch inbound.Type {
	case proto.InboundTypeIdentify:
		return h.identify(ctx, sess, inbound.Data)

	case proto.InboundTypeJoinRoom, proto.InboundTypeLeaveRoom:
		if sess.userID == "" {
			return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "identify first"}
		}
		var data proto.RoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil || data.Room == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room is required"}
		}
		if inbound.Type == proto.InboundTypeJoinRoom {
			h.hub.JoinRoom(sess.client, data.Room)
		} else {
			h.hub.LeaveRoom(sess.client, data.Room)
		}
		return nil

	case proto.InboundTypeSend:
		if sess.userID == "" {
			return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "identify first"}
		}
		if !sess.limiter.allow() {
			return &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"}
		}
		return h.send(ctx, sess, inbound.Data)

	default:
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}
	}
}

func (h *WSHandler) identify(ctx context.Context, sess *wsSession, raw json.RawMessage) *proto.Error {
	var data proto.IdentifyData
	if err := json.Unmarshal(raw, &data); err != nil || data.Token == "" {
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "token is required"}
	}

	user, err := h.auth.Authenticate(ctx, data.Token)
	if err != nil {
		h.log.Debug().Err(err).Str("client_id", sess.client.ID).Msg("identify rejected")
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"}
	}

	if err := h.hub.Identify(ctx, sess.client, user.ID); err != nil {
		var coreErr *core.CoreError
		if errors.As(err, &coreErr) {
			return &proto.Error{Code: coreErr.Code, Msg: coreErr.Message}
		}
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	}

	sess.userID = user.ID
	return nil
}

func (h *WSHandler) send(ctx context.Context, sess *wsSession, raw json.RawMessage) *proto.Error {
	req, clientID, protoErr := sendRequestFromInbound(sess.userID, sess.client, raw)
	if protoErr != nil {
		return protoErr
	}

	msg, err := h.coord.Send(ctx, req)
	if err != nil {
		status, code := deliveryErrorStatus(err)
		if status == stdhttp.StatusServiceUnavailable {
			h.log.Error().Err(err).Str("user_id", sess.userID).Msg("ws send failed")
		}
		return &proto.Error{Code: code, Msg: err.Error()}
	}

	echo := outboundFromEvent(&core.Event{Kind: core.EventMessageSent, Message: msg, ClientID: clientID})
	if err := wsjson.Write(ctx, sess.conn, echo); err != nil {
		h.log.Debug().Err(err).Str("client_id", sess.client.ID).Msg("write message-sent")
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
