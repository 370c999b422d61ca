package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// MessageHandler handles message deletion. Sending happens over the
// websocket only.
type MessageHandler struct {
	msgs   *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(msgs *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{msgs: msgs, logger: logger}
}

// Delete handles DELETE /v1/messages/:id?scope=me|everyone
//
// Scope defaults to "me". Only direct messages can be deleted.
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	scope := models.DeleteScope(c.DefaultQuery("scope", string(models.DeleteForMe)))
	if err := h.msgs.Delete(c.Request.Context(), middleware.GetUserID(c), id, scope); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
