package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/models"
	"go.uber.org/zap"
)

// State is where a connection is in its lifecycle. Transitions only move
// forward; Disconnected is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateInitializing
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the event dispatcher for one connection. Inbound frames are
// handled one at a time by the connection's read loop.
type Session struct {
	hub    *Hub
	sink   Sink
	user   models.User
	state  atomic.Int32
	closed sync.Once
	logger *zap.Logger
}

func newSession(h *Hub, sink Sink) *Session {
	s := &Session{
		hub:    h,
		sink:   sink,
		logger: h.logger.With(zap.String("conn_id", sink.ID().String())),
	}
	s.setState(StateConnecting)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// User returns the identity the session authenticated as.
func (s *Session) User() models.User { return s.user }

// initialize registers presence, joins the user's room groups and queues
// the initial views. It leaves the session Active.
func (s *Session) initialize(ctx context.Context) {
	s.setState(StateInitializing)
	h := s.hub
	s.logger = s.logger.With(zap.Int64("user_id", s.user.ID))

	h.router.Attach(s.sink)
	h.metrics.Connections.Inc()
	if tr := h.registry.Register(s.user.ID, s.sink.ID()); tr.Transitioned {
		h.wentOnline(ctx, &s.user)
	}

	rooms, err := h.dir.UserRooms(ctx, s.user.ID)
	if err != nil {
		s.fail("initialize", err)
		rooms = []models.RoomWithRole{}
	}
	rooms = s.joinRoomGroups(ctx, rooms)
	s.push(EventRoomsList, rooms)

	for _, step := range []func(context.Context) error{
		s.sendFriends,
		s.sendDMConversations,
		s.sendOnlineUsers,
		s.sendFriendRequestsCount,
	} {
		if err := step(ctx); err != nil {
			s.fail("initialize", err)
		}
	}

	h.router.ToAll(EventRefreshFriendsStatus, RefreshPayload{})
	h.router.ToAll(EventRefreshRoomUsers, RefreshPayload{})

	s.setState(StateActive)
	s.logger.Debug("session active", zap.Int("rooms", len(rooms)))
}

// joinRoomGroups adds the connection to each room's group and returns the
// rooms it kept. A leave that commits after UserRooms was read finds the
// connection either not yet grouped (so its LeaveUser misses it) or already
// grouped. Re-reading the membership after the join covers the first case.
func (s *Session) joinRoomGroups(ctx context.Context, rooms []models.RoomWithRole) []models.RoomWithRole {
	h := s.hub
	kept := rooms[:0]
	for _, r := range rooms {
		h.router.JoinGroup(r.ID, s.sink.ID())
		member, err := h.dir.IsMember(ctx, r.ID, s.user.ID)
		if err != nil {
			// Keep the group; a later leave still reaches this handle.
			s.logger.Warn("recheck room membership", zap.Int64("room_id", r.ID), zap.Error(err))
			kept = append(kept, r)
			continue
		}
		if !member {
			h.router.LeaveGroup(r.ID, s.sink.ID())
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// Disconnect deregisters the connection. Only the user's last connection
// produces the offline broadcast. Safe to call more than once.
func (s *Session) Disconnect(ctx context.Context) {
	s.closed.Do(func() {
		st := s.State()
		wasLive := st == StateInitializing || st == StateActive
		s.setState(StateDisconnected)
		if !wasLive {
			return
		}
		h := s.hub
		h.router.Detach(s.sink.ID())
		h.metrics.Connections.Dec()
		if tr := h.registry.Deregister(s.user.ID, s.sink.ID()); tr.Transitioned {
			h.wentOffline(ctx, &s.user)
		}
		s.logger.Debug("session closed")
	})
}

type handlerFunc func(s *Session, ctx context.Context, data json.RawMessage) error

var handlers = map[string]handlerFunc{
	EventJoinRoom:               (*Session).onJoinRoom,
	EventLeaveRoom:              (*Session).onLeaveRoom,
	EventGetUserRooms:           (*Session).onGetUserRooms,
	EventGetRoomUsers:           (*Session).onGetRoomUsers,
	EventGetOnlineUsers:         (*Session).onGetOnlineUsers,
	EventGetDMConversations:     (*Session).onGetDMConversations,
	EventGetFriendsList:         (*Session).onGetFriendsList,
	EventGetFriendRequestsCount: (*Session).onGetFriendRequestsCount,
	EventRefreshMyStatus:        (*Session).onRefreshMyStatus,
	EventGetDMMessages:          (*Session).onGetDMMessages,
	EventSendDM:                 (*Session).onSendDM,
	EventSendMessage:            (*Session).onSendMessage,
	EventTypingStart:            (*Session).onTypingStart,
	EventTypingStop:             (*Session).onTypingStop,
}

// Handle dispatches one inbound frame. Every failure ends up as a single
// error push to this connection; nothing propagates further.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	if s.State() != StateActive {
		return
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		s.hub.metrics.InboundEvents.WithLabelValues("malformed").Inc()
		s.fail("decode", apperr.Validation("malformed event"))
		return
	}

	handle, ok := handlers[env.Event]
	if !ok {
		s.hub.metrics.InboundEvents.WithLabelValues("unknown").Inc()
		s.fail(env.Event, apperr.Validation("unknown event: "+env.Event))
		return
	}
	s.hub.metrics.InboundEvents.WithLabelValues(env.Event).Inc()

	if err := handle(s, ctx, env.Data); err != nil {
		s.fail(env.Event, err)
	}
}

func (s *Session) push(event string, payload any) {
	s.hub.router.ToConn(s.sink.ID(), event, payload)
}

func (s *Session) fail(event string, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeUnknown {
		s.logger.Error("event failed", zap.String("event", event), zap.Error(err))
	} else {
		s.logger.Debug("event rejected", zap.String("event", event), zap.Error(err))
	}
	s.push(EventError, ErrorPayload{Code: string(code), Message: apperr.PublicMessage(err)})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}

func (s *Session) roomID(data json.RawMessage) (int64, error) {
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return 0, err
	}
	if req.RoomID <= 0 {
		return 0, apperr.Validation("roomId is required")
	}
	return req.RoomID, nil
}

// ---------------------------------------------------------------
// Views pushed to self
// ---------------------------------------------------------------

func (s *Session) sendRooms(ctx context.Context) error {
	rooms, err := s.hub.dir.UserRooms(ctx, s.user.ID)
	if err != nil {
		return err
	}
	s.push(EventRoomsList, rooms)
	return nil
}

func (s *Session) sendFriends(ctx context.Context) error {
	friends, err := s.hub.dir.FriendsOf(ctx, s.user.ID)
	if err != nil {
		return err
	}
	s.push(EventFriendsListUpdated, FriendsListPayload{Friends: friends})
	return nil
}

func (s *Session) sendDMConversations(ctx context.Context) error {
	convs, err := s.hub.dir.DMConversations(ctx, s.user.ID)
	if err != nil {
		return err
	}
	s.push(EventDMConversations, convs)
	return nil
}

func (s *Session) sendOnlineUsers(ctx context.Context) error {
	users, err := s.hub.dir.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	s.push(EventOnlineUsers, users)
	return nil
}

func (s *Session) sendFriendRequestsCount(ctx context.Context) error {
	n, err := s.hub.dir.PendingCount(ctx, s.user.ID)
	if err != nil {
		return err
	}
	s.push(EventFriendRequestsCountUpdated, FriendRequestsCountPayload{Count: n})
	return nil
}

func (s *Session) sendRoomUsers(ctx context.Context, roomID int64) error {
	users, err := s.hub.dir.RoomUsers(ctx, roomID)
	if err != nil {
		return err
	}
	s.push(EventRoomUsers, RoomUsersPayload{RoomID: roomID, Users: users})
	return nil
}

// ---------------------------------------------------------------
// Inbound handlers
// ---------------------------------------------------------------

func (s *Session) onJoinRoom(ctx context.Context, data json.RawMessage) error {
	roomID, err := s.roomID(data)
	if err != nil {
		return err
	}
	if err := s.hub.dir.RequireMember(ctx, roomID, s.user.ID); err != nil {
		return err
	}
	s.hub.router.JoinGroup(roomID, s.sink.ID())

	msgs, err := s.hub.dir.RoomMessages(ctx, roomID, directory.DefaultPageSize, 0)
	if err != nil {
		return err
	}
	s.push(EventRoomMessages, RoomMessagesPayload{RoomID: roomID, Messages: msgs})
	return s.sendRoomUsers(ctx, roomID)
}

func (s *Session) onLeaveRoom(ctx context.Context, data json.RawMessage) error {
	roomID, err := s.roomID(data)
	if err != nil {
		return err
	}
	s.hub.router.LeaveGroup(roomID, s.sink.ID())
	return s.sendRooms(ctx)
}

func (s *Session) onGetUserRooms(ctx context.Context, _ json.RawMessage) error {
	return s.sendRooms(ctx)
}

func (s *Session) onGetRoomUsers(ctx context.Context, data json.RawMessage) error {
	roomID, err := s.roomID(data)
	if err != nil {
		return err
	}
	if err := s.hub.dir.RequireMember(ctx, roomID, s.user.ID); err != nil {
		return err
	}
	return s.sendRoomUsers(ctx, roomID)
}

func (s *Session) onGetOnlineUsers(ctx context.Context, _ json.RawMessage) error {
	return s.sendOnlineUsers(ctx)
}

func (s *Session) onGetDMConversations(ctx context.Context, _ json.RawMessage) error {
	return s.sendDMConversations(ctx)
}

func (s *Session) onGetFriendsList(ctx context.Context, _ json.RawMessage) error {
	return s.sendFriends(ctx)
}

func (s *Session) onGetFriendRequestsCount(ctx context.Context, _ json.RawMessage) error {
	return s.sendFriendRequestsCount(ctx)
}

// onRefreshMyStatus re-asserts online for a user whose client suspects
// drift, for example after a suspended tab wakes up.
func (s *Session) onRefreshMyStatus(ctx context.Context, _ json.RawMessage) error {
	s.hub.announce(ctx, &s.user, models.StatusOnline)
	if err := s.sendOnlineUsers(ctx); err != nil {
		return err
	}
	return s.sendFriends(ctx)
}

func (s *Session) onGetDMMessages(ctx context.Context, data json.RawMessage) error {
	var req DMMessagesRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RecipientID <= 0 {
		return apperr.Validation("recipientId is required")
	}
	msgs, err := s.hub.dir.DMMessages(ctx, s.user.ID, req.RecipientID, req.Limit, req.Offset)
	if err != nil {
		return err
	}
	s.push(EventDMMessages, DMMessagesPayload{RecipientID: req.RecipientID, Messages: msgs})
	return nil
}

func (s *Session) onSendDM(ctx context.Context, data json.RawMessage) error {
	var req SendDMRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RecipientID <= 0 {
		return apperr.Validation("recipientId is required")
	}

	msg, _, err := s.hub.messages.SendDirect(ctx, s.user.ID, req.RecipientID, models.NewMessage{
		Type:    req.MessageType,
		Content: req.Content,
		Media:   req.Media,
	})
	if err != nil {
		return err
	}

	s.hub.router.ToUser(s.user.ID, EventNewDM, msg)
	if req.RecipientID != s.user.ID {
		s.hub.router.ToUser(req.RecipientID, EventNewDM, msg)
	}
	s.hub.pushConversations(ctx, s.user.ID)
	if req.RecipientID != s.user.ID {
		s.hub.pushConversations(ctx, req.RecipientID)
	}
	return nil
}

func (s *Session) onSendMessage(ctx context.Context, data json.RawMessage) error {
	var req SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RoomID <= 0 {
		return apperr.Validation("roomId is required")
	}

	msg, err := s.hub.messages.SendToRoom(ctx, s.user.ID, req.RoomID, models.NewMessage{
		Type:    req.MessageType,
		Content: req.Content,
		Media:   req.Media,
	})
	if err != nil {
		return err
	}

	// Membership was just verified; a sender that never joined the live
	// group would otherwise miss its own message.
	if !s.hub.router.InGroup(req.RoomID, s.sink.ID()) {
		s.hub.router.JoinGroup(req.RoomID, s.sink.ID())
	}
	s.hub.router.ToRoom(req.RoomID, EventNewMessage, msg)
	return nil
}

func (s *Session) onTypingStart(ctx context.Context, data json.RawMessage) error {
	return s.relayTyping(data, EventUserTyping)
}

func (s *Session) onTypingStop(ctx context.Context, data json.RawMessage) error {
	return s.relayTyping(data, EventUserStoppedTyping)
}

// relayTyping forwards an ephemeral typing signal. Nothing is persisted and
// offline targets are skipped silently.
func (s *Session) relayTyping(data json.RawMessage, event string) error {
	var req TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	payload := TypingPayload{UserID: s.user.ID, Username: s.user.Username}
	switch {
	case req.RoomID != nil && req.RecipientID == nil:
		payload.RoomID = req.RoomID
		s.hub.router.ToRoomExcept(*req.RoomID, s.user.ID, event, payload)
	case req.RecipientID != nil && req.RoomID == nil:
		payload.RecipientID = req.RecipientID
		s.hub.router.ToUser(*req.RecipientID, event, payload)
	default:
		return apperr.Validation("typing needs exactly one of roomId or recipientId")
	}
	return nil
}
