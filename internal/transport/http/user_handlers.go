package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store    store.UserStore
	presence *core.PresenceTable
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, presence *core.PresenceTable, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:    st,
		presence: presence,
		log:      logger,
	}
}

// Profile returns the authenticated user.
// GET /api/users/profile
func (h *UserHandlers) Profile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, userToResponse(user, h.isOnline(user)))
}

// ListUsers returns every other user with live presence.
// GET /api/users/all
func (h *UserHandlers) ListUsers(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	users, err := h.store.ListUsers(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(users, func(u *store.User, _ int) UserResponse {
		return userToResponse(u, h.isOnline(u))
	}))
}

func (h *UserHandlers) isOnline(u *store.User) bool {
	return liveOnline(h.presence, u)
}
