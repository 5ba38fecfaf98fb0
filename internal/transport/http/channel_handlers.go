package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// ChannelHandlers provides HTTP handlers for channel management endpoints.
// Membership mutations are pushed to live gateway connections through the
// event bridge.
type ChannelHandlers struct {
	store  store.Store
	bridge *gateway.Bridge
	log    *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(st store.Store, bridge *gateway.Bridge, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		store:  st,
		bridge: bridge,
		log:    logger,
	}
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description" binding:"max=256"`
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     int64  `json:"owner_id"`
	CreatedAt   string `json:"created_at"`
}

// MemberResponse is a denormalized member snapshot in channel listings.
type MemberResponse struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Permissions uint32 `json:"permissions"`
	JoinedAt    string `json:"joined_at"`
}

// ChannelDetailResponse is a channel plus its member projections.
type ChannelDetailResponse struct {
	ChannelResponse
	Members []MemberResponse `json:"members"`
}

func channelResponse(ch *store.Channel) ChannelResponse {
	return ChannelResponse{
		ID:          ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
		OwnerID:     ch.OwnerID,
		CreatedAt:   ch.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Create handles channel creation. Requires MANAGE_CHANNELS.
// POST /api/channels
func (h *ChannelHandlers) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if !user.Permissions.Has(store.PermManageChannels) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "insufficient permissions"})
		return
	}

	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create channel request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ch, err := h.store.CreateChannel(c.Request.Context(), req.Name, req.Description, user.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "channel with this name already exists"})
			return
		}
		h.log.Error().Err(err).Str("channel_name", req.Name).Msg("failed to create channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel_name", ch.Name).Int64("channel_id", ch.ID).Int64("owner_id", user.ID).Msg("channel created")
	c.JSON(http.StatusCreated, channelResponse(ch))
}

// List handles listing all channels.
// GET /api/channels
func (h *ChannelHandlers) List(c *gin.Context) {
	channels, err := h.store.ListChannels(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelResponse(ch))
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one channel with its member projections.
// GET /api/channels/:id
func (h *ChannelHandlers) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ch, err := h.store.GetChannelByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", id).Msg("failed to get channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	members, err := h.store.ListMembers(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", id).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ChannelDetailResponse{
		ChannelResponse: channelResponse(ch),
		Members:         make([]MemberResponse, 0, len(members)),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, MemberResponse{
			UserID:      m.UserID,
			Username:    m.Username,
			AvatarURL:   m.AvatarURL,
			Permissions: uint32(m.Permissions),
			JoinedAt:    m.JoinedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Delete removes a channel. Requires MANAGE_CHANNELS.
// DELETE /api/channels/:id
func (h *ChannelHandlers) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	if !user.Permissions.Has(store.PermManageChannels) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "insufficient permissions"})
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteChannel(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", id).Msg("failed to delete channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// AddMember adds a user to a channel and notifies their live connection.
// Users may join themselves; adding someone else requires MANAGE_CHANNELS.
// PUT /api/channels/:id/members/:uid
func (h *ChannelHandlers) AddMember(c *gin.Context) {
	h.mutateMembership(c, true)
}

// RemoveMember removes a user from a channel and notifies their live
// connection. Same permission rules as AddMember.
// DELETE /api/channels/:id/members/:uid
func (h *ChannelHandlers) RemoveMember(c *gin.Context) {
	h.mutateMembership(c, false)
}

func (h *ChannelHandlers) mutateMembership(c *gin.Context, add bool) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	channelID, ok := pathID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(c, "uid")
	if !ok {
		return
	}

	if targetID != user.ID && !user.Permissions.Has(store.PermManageChannels) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "insufficient permissions"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetChannelByID(ctx, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to get channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	var err error
	if add {
		err = h.store.AddMember(ctx, channelID, targetID)
	} else {
		err = h.store.RemoveMember(ctx, channelID, targetID)
	}
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Int64("user_id", targetID).Msg("failed to mutate membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	kind := gateway.EventChannelJoin
	if !add {
		kind = gateway.EventChannelLeave
	}
	h.bridge.Publish(gateway.Event{Kind: kind, UserID: targetID, ChannelID: channelID})

	c.Status(http.StatusNoContent)
}

// pathID parses an int64 path parameter, answering 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
