package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// MessageHandlers provides history and send endpoints.
type MessageHandlers struct {
	store store.MessageStore
	coord *delivery.Coordinator
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.MessageStore, coord *delivery.Coordinator, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store: st,
		coord: coord,
		log:   logger,
	}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ReceiverID  string `json:"receiverId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize" binding:"gte=0"`
	MIMEType    string `json:"mimeType"`
}

// MarkReadResponse reports how many messages were flagged read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// SendMessage persists a message and delivers it live.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	sendReq := delivery.Request{
		SenderID:   user.ID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Kind:       store.MessageKind(req.MessageType),
	}
	if req.FileURL != "" {
		sendReq.File = &store.File{URL: req.FileURL, Name: req.FileName, Size: req.FileSize, MIMEType: req.MIMEType}
	}

	msg, err := h.coord.Send(c.Request.Context(), sendReq)
	if err != nil {
		status, _ := deliveryErrorStatus(err)
		if status == http.StatusServiceUnavailable {
			h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to send message")
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, messageToProto(msg))
}

// History returns the conversation with receiverId in ascending order.
// GET /api/messages/:receiverId
func (h *MessageHandlers) History(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	history, err := h.store.History(c.Request.Context(), user.ID, c.Param("receiverId"))
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to load history")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, messagesToProto(history))
}

// MarkRead flags every unread message from receiverId to the caller as read.
// PUT /api/messages/:receiverId/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	n, err := h.store.MarkRead(c.Request.Context(), user.ID, c.Param("receiverId"), time.Now().UTC())
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to mark messages read")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, MarkReadResponse{Updated: n})
}
