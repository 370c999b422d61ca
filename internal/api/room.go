package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// RoomHandler handles room lifecycle and membership.
//
// Writes (create, join, leave) go through RoomService, which owns the
// membership rules and notifies live connections. Reads (catalog, members,
// history) go through the Directory. Every route sits behind the auth
// middleware, so the caller's id always comes from the token.
type RoomHandler struct {
	rooms  *service.RoomService
	dir    *directory.Directory
	logger *zap.Logger
}

func NewRoomHandler(rooms *service.RoomService, dir *directory.Directory, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, dir: dir, logger: logger}
}

type createRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"display_name"`
	IsPrivate   bool   `json:"is_private"`
}

// Create handles POST /v1/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), middleware.GetUserID(c), req.Name, req.DisplayName, req.IsPrivate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// List handles GET /v1/rooms, the public room catalog.
func (h *RoomHandler) List(c *gin.Context) {
	rooms, err := h.rooms.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// Join handles POST /v1/rooms/:id/join
func (h *RoomHandler) Join(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	room, err := h.rooms.Join(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Leave handles POST /v1/rooms/:id/leave. Leaving a room you are not in
// succeeds without doing anything.
func (h *RoomHandler) Leave(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.rooms.Leave(c.Request.Context(), middleware.GetUserID(c), roomID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Members handles GET /v1/rooms/:id/members
func (h *RoomHandler) Members(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.dir.RequireMember(ctx, roomID, middleware.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	users, err := h.dir.RoomUsers(ctx, roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// Messages handles GET /v1/rooms/:id/messages?limit=50&offset=0
func (h *RoomHandler) Messages(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.dir.RequireMember(ctx, roomID, middleware.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	msgs, err := h.dir.RoomMessages(ctx, roomID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
