package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// UserHandlers provides HTTP handlers for user profile endpoints.
type UserHandlers struct {
	store  store.Store
	bridge *gateway.Bridge
	log    *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.Store, bridge *gateway.Bridge, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:  st,
		bridge: bridge,
		log:    logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Permissions uint32 `json:"permissions"`
	CreatedAt   string `json:"created_at"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL,
		Permissions: uint32(u.Permissions),
		CreatedAt:   u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// UpdateUserRequest represents the profile update request body.
type UpdateUserRequest struct {
	Username  *string `json:"username" binding:"omitempty,min=3,max=32"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,max=256"`
}

// Me returns the authenticated user's profile.
// GET /api/users/me
func (h *UserHandlers) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

// Update mutates the authenticated user's profile and emits a user-update
// event so the gateway can react.
// PATCH /api/users/me
func (h *UserHandlers) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid user update request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Username != nil {
		user.Username = strings.TrimSpace(*req.Username)
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}

	if err := h.store.UpdateUser(c.Request.Context(), user); err != nil {
		h.log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to update user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.bridge.Publish(gateway.Event{Kind: gateway.EventUserUpdate, UserID: user.ID})

	c.JSON(http.StatusOK, userResponse(user))
}
