package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// ConversationHandler exposes a user's direct conversations.
//
// Hiding is per user and reversible; a new message from either side unhides
// the conversation again. Delete marks the caller's side only; the
// messages are tombstoned once both participants have deleted.
type ConversationHandler struct {
	convs  *service.ConversationService
	dir    *directory.Directory
	logger *zap.Logger
}

func NewConversationHandler(convs *service.ConversationService, dir *directory.Directory, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{convs: convs, dir: dir, logger: logger}
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.dir.DMConversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

// Hide handles POST /v1/conversations/:id/hide
func (h *ConversationHandler) Hide(c *gin.Context) {
	h.setHidden(c, true)
}

// Unhide handles POST /v1/conversations/:id/unhide
func (h *ConversationHandler) Unhide(c *gin.Context) {
	h.setHidden(c, false)
}

func (h *ConversationHandler) setHidden(c *gin.Context, hidden bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.convs.SetHidden(c.Request.Context(), middleware.GetUserID(c), id, hidden); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /v1/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.convs.Delete(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
