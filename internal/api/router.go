package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/middleware"
)

// Handlers is everything NewRouter mounts. WS and Metrics are optional.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Rooms         *RoomHandler
	Friends       *FriendHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	WS            gin.HandlerFunc
	Metrics       http.Handler
}

// NewRouter builds the HTTP surface. Health, metrics, auth and the
// websocket upgrade are public; the upgrade authenticates on its own so it
// can report failures with a close code.
func NewRouter(h Handlers, jwtSecret string, mws ...gin.HandlerFunc) *gin.Engine {
	srv := gin.New()
	srv.Use(gin.Recovery())
	srv.Use(mws...)

	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		srv.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.WS != nil {
		srv.GET("/v1/ws", h.WS)
	}

	srv.POST("/v1/auth/register", h.Auth.Register)
	srv.POST("/v1/auth/login", h.Auth.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))

	v1.GET("/users/me", h.Users.GetMe)
	v1.GET("/users/:id/friendship", h.Users.Friendship)

	v1.POST("/rooms", h.Rooms.Create)
	v1.GET("/rooms", h.Rooms.List)
	v1.POST("/rooms/:id/join", h.Rooms.Join)
	v1.POST("/rooms/:id/leave", h.Rooms.Leave)
	v1.GET("/rooms/:id/members", h.Rooms.Members)
	v1.GET("/rooms/:id/messages", h.Rooms.Messages)

	v1.GET("/friends", h.Friends.List)
	v1.GET("/friends/requests", h.Friends.Requests)
	v1.POST("/friends/requests", h.Friends.SendRequest)
	v1.POST("/friends/requests/:id/accept", h.Friends.Accept)
	v1.POST("/friends/requests/:id/reject", h.Friends.Reject)
	v1.DELETE("/friends/requests/:id", h.Friends.Cancel)
	v1.DELETE("/friends/:userId", h.Friends.Remove)
	v1.POST("/friends/:userId/block", h.Friends.Block)

	v1.GET("/conversations", h.Conversations.List)
	v1.POST("/conversations/:id/hide", h.Conversations.Hide)
	v1.POST("/conversations/:id/unhide", h.Conversations.Unhide)
	v1.DELETE("/conversations/:id", h.Conversations.Delete)

	v1.DELETE("/messages/:id", h.Messages.Delete)

	return srv
}
