package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

// UploadHandlers accepts attachments and sends them as file messages.
type UploadHandlers struct {
	coord     *delivery.Coordinator
	uploadDir string
	maxBytes  int64
	log       *zerolog.Logger
}

// NewUploadHandlers creates a new upload handlers instance.
func NewUploadHandlers(coord *delivery.Coordinator, cfg *config.Config, logger *zerolog.Logger) *UploadHandlers {
	return &UploadHandlers{
		coord:     coord,
		uploadDir: cfg.UploadDir,
		maxBytes:  cfg.MaxUploadBytes,
		log:       logger,
	}
}

// Upload stores the multipart "file" field and sends it to receiverId.
// POST /api/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	// Leave headroom for the other form fields.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+64<<10)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no file uploaded"})
		return
	}
	if header.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("file too large: %d bytes (limit is %d)", header.Size, h.maxBytes),
		})
		return
	}
	receiverID := c.PostForm("receiverId")
	if receiverID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiverId is required"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}
	mtype, err := mimetype.DetectReader(src)
	_ = src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable file"})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.log.Error().Err(err).Str("dir", h.uploadDir).Msg("failed to create upload dir")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	name := utils.NewID() + mtype.Extension()
	dst := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(header, dst); err != nil {
		h.log.Error().Err(err).Str("path", dst).Msg("failed to save upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	msg, err := h.coord.Send(c.Request.Context(), delivery.Request{
		SenderID:   user.ID,
		ReceiverID: receiverID,
		Content:    c.PostForm("content"),
		Kind:       delivery.KindForMIME(mtype.String()),
		File: &store.File{
			URL:      "/uploads/" + name,
			Name:     filepath.Base(header.Filename),
			Size:     header.Size,
			MIMEType: mtype.String(),
		},
	})
	if err != nil {
		_ = os.Remove(dst)
		status, _ := deliveryErrorStatus(err)
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	h.log.Info().
		Str("user_id", user.ID).
		Str("mime", mtype.String()).
		Int64("size", header.Size).
		Msg("file uploaded")
	c.JSON(http.StatusCreated, messageToProto(msg))
}
