package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeIdentify  = "identify"
	InboundTypeJoinRoom  = "join-room"
	InboundTypeLeaveRoom = "leave-room"
	InboundTypeSend      = "send"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventIdentified       = "identified"
	EventMessageDelivered = "message-delivered"
	EventMessageSent      = "message-sent"
	EventPresenceChanged  = "presence-changed"
	EventPresenceSnapshot = "presence-snapshot"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// IdentifyData binds the connection to the bearer of token.
type IdentifyData struct {
	Token string `json:"token"`
}

// RoomData names a conversation room.
type RoomData struct {
	Room string `json:"room"`
}

// FileData describes an already uploaded attachment.
type FileData struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mimeType"`
}

// SendData is a direct message from the client.
type SendData struct {
	ReceiverID  string    `json:"receiverId"`
	Content     string    `json:"content,omitempty"`
	File        *FileData `json:"file,omitempty"`
	MessageType string    `json:"messageType,omitempty"`
	ClientID    string    `json:"clientId,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// UserSummary is the public projection of a user.
type UserSummary struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Message is the JSON shape of a stored message, shared by REST and websocket.
type Message struct {
	ID          int64       `json:"_id"`
	Sender      UserSummary `json:"sender"`
	Receiver    UserSummary `json:"receiver"`
	Content     string      `json:"content"`
	MessageType string      `json:"messageType"`
	FileURL     *string     `json:"fileUrl"`
	FileName    *string     `json:"fileName"`
	FileSize    *int64      `json:"fileSize"`
	MIMEType    *string     `json:"mimeType"`
	IsRead      bool        `json:"isRead"`
	ReadAt      *time.Time  `json:"readAt"`
	CreatedAt   time.Time   `json:"createdAt"`
	ClientID    string      `json:"clientId,omitempty"`
}

// EventIdentifiedData confirms the bound user.
type EventIdentifiedData struct {
	UserID string `json:"userId"`
}

// EventPresenceChangedData reports one presence transition.
type EventPresenceChangedData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// EventPresenceSnapshotData lists the users online right now.
type EventPresenceSnapshotData struct {
	Online []string `json:"online"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
