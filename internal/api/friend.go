package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// FriendHandler handles friend requests and the friends list.
//
// A request stays pending until the addressee accepts or rejects it or the
// requester cancels it. FriendService enforces who may do which and pushes
// the refresh hints. The handler only parses ids and
// maps the resulting error codes to HTTP statuses.
type FriendHandler struct {
	friends *service.FriendService
	dir     *directory.Directory
	logger  *zap.Logger
}

func NewFriendHandler(friends *service.FriendService, dir *directory.Directory, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{friends: friends, dir: dir, logger: logger}
}

type friendRequest struct {
	Username string `json:"username" binding:"required"`
}

// SendRequest handles POST /v1/friends/requests
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req friendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := h.friends.SendRequest(c.Request.Context(), middleware.GetUserID(c), req.Username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Accept handles POST /v1/friends/requests/:id/accept
func (h *FriendHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, err := h.friends.Accept(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Reject handles POST /v1/friends/requests/:id/reject
func (h *FriendHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, err := h.friends.Reject(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Cancel handles DELETE /v1/friends/requests/:id
func (h *FriendHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.friends.Cancel(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Remove handles DELETE /v1/friends/:userId
func (h *FriendHandler) Remove(c *gin.Context) {
	otherID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if err := h.friends.Remove(c.Request.Context(), middleware.GetUserID(c), otherID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Block handles POST /v1/friends/:userId/block
func (h *FriendHandler) Block(c *gin.Context) {
	otherID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	f, err := h.friends.Block(c.Request.Context(), middleware.GetUserID(c), otherID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// List handles GET /v1/friends
func (h *FriendHandler) List(c *gin.Context) {
	friends, err := h.dir.FriendsOf(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, friends)
}

// Requests handles GET /v1/friends/requests
func (h *FriendHandler) Requests(c *gin.Context) {
	reqs, err := h.dir.PendingRequests(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}
