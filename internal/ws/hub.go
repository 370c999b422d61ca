package ws

import (
	"context"
	"time"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// Identity is the authenticated user a connection belongs to.
type Identity struct {
	UserID   int64
	Username string
}

// Deps are the collaborators a Hub needs.
type Deps struct {
	Gateway   repository.Gateway
	Registry  *presence.Registry
	Mirror    presence.Mirror
	Router    *Router
	Directory *directory.Directory
	Messages  *service.MessageService
	Metrics   *observ.Metrics
	Logger    *zap.Logger
}

// Hub owns everything shared between connections and creates a Session
// per connection.
type Hub struct {
	gw       repository.Gateway
	registry *presence.Registry
	mirror   presence.Mirror
	router   *Router
	dir      *directory.Directory
	messages *service.MessageService
	metrics  *observ.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewHub(d Deps) *Hub {
	mirror := d.Mirror
	if mirror == nil {
		mirror = presence.NopMirror{}
	}
	return &Hub{
		gw:       d.Gateway,
		registry: d.Registry,
		mirror:   mirror,
		router:   d.Router,
		dir:      d.Directory,
		messages: d.Messages,
		metrics:  d.Metrics,
		logger:   d.Logger.Named("ws"),
		now:      time.Now,
	}
}

func (h *Hub) Router() *Router { return h.router }

// Connect runs a new connection through authentication and
// initialization. On error nothing has been registered and the caller
// must close the transport.
func (h *Hub) Connect(ctx context.Context, id *Identity, sink Sink) (*Session, error) {
	s := newSession(h, sink)

	if id == nil || id.UserID == 0 {
		s.setState(StateDisconnected)
		return nil, apperr.AuthenticationRequired("authentication required")
	}
	user, err := h.gw.Users.GetByID(ctx, id.UserID)
	if err != nil {
		s.setState(StateDisconnected)
		h.logger.Error("identity lookup failed", zap.Int64("user_id", id.UserID), zap.Error(err))
		return nil, apperr.Transient(err)
	}
	if user == nil {
		s.setState(StateDisconnected)
		return nil, apperr.AuthenticationRequired("account no longer exists")
	}
	s.user = *user
	s.setState(StateAuthenticated)

	s.initialize(ctx)
	return s, nil
}

func (h *Hub) announce(ctx context.Context, user *models.User, status models.UserStatus) {
	at := h.now()
	if err := h.gw.Users.UpdateStatus(ctx, user.ID, status, at); err != nil {
		// The registry stays authoritative; the column catches up on the
		// next refresh_my_status or reconnect.
		h.logger.Error("persist status failed",
			zap.Int64("user_id", user.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	var err error
	if status == models.StatusOffline {
		err = h.mirror.MarkOffline(ctx, user.ID, at)
	} else {
		err = h.mirror.MarkOnline(ctx, user.ID, at)
	}
	if err != nil {
		h.logger.Warn("presence mirror update failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	h.metrics.UsersOnline.Set(float64(h.registry.OnlineCount()))
	h.router.ToAll(EventUserStatusChanged, UserStatusPayload{
		UserID:   user.ID,
		Username: user.Username,
		Status:   status,
	})
}

func (h *Hub) wentOnline(ctx context.Context, user *models.User) {
	h.metrics.PresenceTransitions.WithLabelValues("online").Inc()
	h.logger.Info("user online", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	h.announce(ctx, user, models.StatusOnline)
}

func (h *Hub) wentOffline(ctx context.Context, user *models.User) {
	h.metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	h.logger.Info("user offline", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	h.announce(ctx, user, models.StatusOffline)
}

// pushRooms sends userID's room list to all of their devices.
func (h *Hub) pushRooms(ctx context.Context, userID int64) {
	if !h.registry.IsOnline(userID) {
		return
	}
	rooms, err := h.dir.UserRooms(ctx, userID)
	if err != nil {
		return
	}
	h.router.ToUser(userID, EventRoomsList, rooms)
}

// pushFriends sends userID's friends list and pending request count to all
// of their devices.
func (h *Hub) pushFriends(ctx context.Context, userID int64) {
	if !h.registry.IsOnline(userID) {
		return
	}
	if friends, err := h.dir.FriendsOf(ctx, userID); err == nil {
		h.router.ToUser(userID, EventFriendsListUpdated, FriendsListPayload{Friends: friends})
	}
	if n, err := h.dir.PendingCount(ctx, userID); err == nil {
		h.router.ToUser(userID, EventFriendRequestsCountUpdated, FriendRequestsCountPayload{Count: n})
	}
}

// pushConversations sends userID's DM list to all of their devices.
func (h *Hub) pushConversations(ctx context.Context, userID int64) {
	if !h.registry.IsOnline(userID) {
		return
	}
	convs, err := h.dir.DMConversations(ctx, userID)
	if err != nil {
		return
	}
	h.router.ToUser(userID, EventDMConversations, convs)
}
