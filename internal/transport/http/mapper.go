package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       string     `json:"_id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

func userToResponse(u *store.User, online bool) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: online,
		LastSeen: u.LastSeen,
	}
}

// liveOnline prefers the presence table; the stored flag can lag behind it.
func liveOnline(presence *core.PresenceTable, u *store.User) bool {
	if presence == nil {
		return u.Online
	}
	return presence.IsOnline(u.ID)
}

func summaryToProto(s store.UserSummary) proto.UserSummary {
	return proto.UserSummary{ID: s.ID, Username: s.Username, Avatar: s.Avatar}
}

func messageToProto(m *store.Message) proto.Message {
	out := proto.Message{
		ID:          m.ID,
		Sender:      summaryToProto(m.Sender),
		Receiver:    summaryToProto(m.Receiver),
		MessageType: string(m.Kind),
		IsRead:      m.Read,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
	}
	if m.Body != nil {
		out.Content = m.Body.Text()
		if f := m.Body.Attachment(); f != nil {
			out.FileURL = lo.ToPtr(f.URL)
			out.FileName = lo.ToPtr(f.Name)
			out.FileSize = lo.ToPtr(f.Size)
			out.MIMEType = lo.ToPtr(f.MIMEType)
		}
	}
	return out
}

func messagesToProto(msgs []*store.Message) []proto.Message {
	return lo.Map(msgs, func(m *store.Message, _ int) proto.Message {
		return messageToProto(m)
	})
}

// sendRequestFromInbound decodes a websocket send into a coordinator request.
func sendRequestFromInbound(senderID string, client *core.Client, data json.RawMessage) (delivery.Request, string, *proto.Error) {
	var send proto.SendData
	if err := json.Unmarshal(data, &send); err != nil {
		return delivery.Request{}, "", &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid send payload"}
	}
	req := delivery.Request{
		SenderID:   senderID,
		ReceiverID: send.ReceiverID,
		Content:    send.Content,
		Kind:       store.MessageKind(send.MessageType),
		Exclude:    client,
	}
	if send.File != nil {
		req.File = &store.File{
			URL:      send.File.URL,
			Name:     send.File.Name,
			Size:     send.File.Size,
			MIMEType: send.File.MIMEType,
		}
	}
	return req, send.ClientID, nil
}

// deliveryErrorStatus maps a coordinator error to an HTTP status and wire code.
func deliveryErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, delivery.ErrUnknownReceiver):
		return http.StatusNotFound, core.ErrCodeUnknownReceiver
	case errors.Is(err, delivery.ErrEmptyMessage):
		return http.StatusBadRequest, core.ErrCodeEmptyMessage
	case errors.Is(err, delivery.ErrInvalidKind):
		return http.StatusBadRequest, core.ErrCodeBadRequest
	case errors.Is(err, delivery.ErrUnknownSender):
		return http.StatusUnauthorized, core.ErrCodeUnauthorized
	default:
		return http.StatusServiceUnavailable, core.ErrCodeStoreUnavailable
	}
}

func outboundError(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventIdentified:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventIdentified,
			Data:  proto.EventIdentifiedData{UserID: event.UserID},
		}
	case core.EventMessageDelivered, core.EventMessageSent:
		name := proto.EventMessageDelivered
		if event.Kind == core.EventMessageSent {
			name = proto.EventMessageSent
		}
		data := messageToProto(event.Message)
		data.ClientID = event.ClientID
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
	case core.EventPresenceChanged:
		status := proto.StatusOffline
		if event.Online {
			status = proto.StatusOnline
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresenceChanged,
			Data:  proto.EventPresenceChangedData{UserID: event.UserID, Status: status},
		}
	case core.EventPresenceSnapshot:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresenceSnapshot,
			Data:  proto.EventPresenceSnapshotData{Online: lo.Ternary(event.Users == nil, []string{}, event.Users)},
		}
	case core.EventError:
		if event.Error == nil {
			return outboundError("unknown", "unknown error")
		}
		return outboundError(event.Error.Code, event.Error.Message)
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
