package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/auth"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	hub        *Hub
	jwtSecret  string
	sendBuffer int
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func NewHandler(hub *Hub, jwtSecret string, sendBuffer int, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		jwtSecret:  jwtSecret,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

func (h *Handler) identify(c *gin.Context) *Identity {
	token := middleware.TokenFromRequest(c)
	if token == "" {
		return nil
	}
	claims, err := auth.ParseToken(token, h.jwtSecret)
	if err != nil {
		h.logger.Debug("websocket token rejected", zap.Error(err))
		return nil
	}
	return &Identity{UserID: claims.UserID, Username: claims.Username}
}

// ServeWS handles GET /v1/ws. The upgrade always succeeds so that a
// missing identity can be reported with close code 4401 rather than a bare
// HTTP status the browser hides from scripts.
func (h *Handler) ServeWS(c *gin.Context) {
	identity := h.identify(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	var userID int64
	if identity != nil {
		userID = identity.UserID
	}
	conn := NewConn(ws, userID, h.sendBuffer, h.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := h.hub.Connect(ctx, identity, conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if apperr.CodeOf(err) == apperr.CodeAuthenticationRequired {
			code = CloseUnauthenticated
		}
		conn.CloseWith(code, apperr.PublicMessage(err))
		return
	}

	go conn.WritePump()
	conn.ReadPump(func(frame []byte) {
		sess.Handle(ctx, frame)
	})
	conn.Close()
	sess.Disconnect(ctx)
}
