package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireErrorPush(t *testing.T, sink *fakeSink, code apperr.Code) ErrorPayload {
	t.Helper()
	var p ErrorPayload
	sink.last(t, EventError, &p)
	assert.Equal(t, string(code), p.Code, "message: %s", p.Message)
	return p
}

func TestConnect_InitialBurst(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")

	_, sink := h.connect(t, alice)

	assert.Equal(t, []string{
		EventUserStatusChanged,
		EventRoomsList,
		EventFriendsListUpdated,
		EventDMConversations,
		EventOnlineUsers,
		EventFriendRequestsCountUpdated,
		EventRefreshFriendsStatus,
		EventRefreshRoomUsers,
	}, sink.events())

	var rooms []models.RoomWithRole
	sink.last(t, EventRoomsList, &rooms)
	require.Len(t, rooms, 1)
	assert.Equal(t, "main", rooms[0].Name)
	assert.True(t, h.router.InGroup(h.main.ID, sink.ID()))

	var online []models.User
	sink.last(t, EventOnlineUsers, &online)
	require.Len(t, online, 1)
	assert.Equal(t, alice.ID, online[0].ID)
}

func TestConnect_MissingIdentity(t *testing.T) {
	h := newHarness(t)

	for name, id := range map[string]*Identity{
		"nil":          nil,
		"zero":         {},
		"unknown user": {UserID: 999, Username: "ghost"},
	} {
		t.Run(name, func(t *testing.T) {
			sink := newFakeSink(0)
			s, err := h.hub.Connect(h.ctx, id, sink)

			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, apperr.CodeAuthenticationRequired, apperr.CodeOf(err))
			assert.Zero(t, h.registry.OnlineCount())
			assert.Empty(t, sink.events())
		})
	}
}

// Two tabs for one user produce exactly one online and one offline
// broadcast, and only on the outer edges.
func TestPresence_MultiTabEdges(t *testing.T) {
	h := newHarness(t)
	observer := h.user(t, "olga")
	alice := h.user(t, "alice")
	_, watch := h.connect(t, observer)

	tab1, _ := h.connect(t, alice)
	assert.Equal(t, []models.UserStatus{models.StatusOnline}, watch.statusChanges(t, alice.ID))

	tab2, _ := h.connect(t, alice)
	assert.Equal(t, 2, h.registry.ConnectionCount(alice.ID))
	assert.Len(t, watch.statusChanges(t, alice.ID), 1, "second tab must not re-announce")

	tab1.Disconnect(h.ctx)
	assert.True(t, h.registry.IsOnline(alice.ID))
	assert.Len(t, watch.statusChanges(t, alice.ID), 1, "closing one of two tabs stays online")

	tab2.Disconnect(h.ctx)
	tab2.Disconnect(h.ctx)
	assert.False(t, h.registry.IsOnline(alice.ID))
	assert.Equal(t,
		[]models.UserStatus{models.StatusOnline, models.StatusOffline},
		watch.statusChanges(t, alice.ID),
	)

	stored, err := h.gw.Users.GetByID(h.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, stored.Status)
	assert.NotNil(t, stored.LastSeen)
}

func TestDisconnect_DetachesFromRouter(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	s, sink := h.connect(t, alice)

	s.Disconnect(h.ctx)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Zero(t, h.router.GroupSize(h.main.ID))
	sink.reset()
	send(t, s, EventGetUserRooms, nil)
	assert.Empty(t, sink.events(), "a disconnected session ignores frames")
}

// A DM to an offline user is persisted and shows up when they connect.
func TestSendDM_OfflineRecipientSeesItOnConnect(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	as, asink := h.connect(t, alice)

	send(t, as, EventSendDM, SendDMRequest{RecipientID: bob.ID, Content: "  hello bob  "})

	var sent models.Message
	asink.last(t, EventNewDM, &sent)
	assert.Equal(t, "hello bob", sent.Content)
	assert.Equal(t, 2, asink.count(EventDMConversations), "sender's list is re-pushed after the burst")
	assert.Zero(t, asink.count(EventError))

	bs, bsink := h.connect(t, bob)
	var convs []models.Conversation
	bsink.last(t, EventDMConversations, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, alice.ID, convs[0].OtherUserID)
	assert.Equal(t, "hello bob", convs[0].LastMessage)

	send(t, bs, EventGetDMMessages, DMMessagesRequest{RecipientID: alice.ID})
	var page DMMessagesPayload
	bsink.last(t, EventDMMessages, &page)
	assert.Equal(t, alice.ID, page.RecipientID)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)
}

func TestSendDM_ReachesEveryDeviceOfBothParties(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	as, a1 := h.connect(t, alice)
	_, a2 := h.connect(t, alice)
	_, b1 := h.connect(t, bob)

	send(t, as, EventSendDM, SendDMRequest{RecipientID: bob.ID, Content: "hi"})

	for _, sink := range []*fakeSink{a1, a2, b1} {
		assert.Equal(t, 1, sink.count(EventNewDM))
	}
	var convs []models.Conversation
	b1.last(t, EventDMConversations, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, alice.ID, convs[0].OtherUserID)
}

// An empty room message is rejected before anything is written or sent.
func TestSendMessage_EmptyContentRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	as, asink := h.connect(t, alice)
	_, bsink := h.connect(t, bob)

	send(t, as, EventSendMessage, SendMessageRequest{RoomID: h.main.ID, Content: "   "})

	requireErrorPush(t, asink, apperr.CodeValidationFailed)
	assert.Zero(t, asink.count(EventNewMessage))
	assert.Zero(t, bsink.count(EventNewMessage))

	msgs, err := h.gw.Messages.ListByRoom(h.ctx, h.main.ID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessage_BroadcastsToRoomGroup(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	as, asink := h.connect(t, alice)
	_, bsink := h.connect(t, bob)

	send(t, as, EventSendMessage, SendMessageRequest{RoomID: h.main.ID, Content: "hello room"})

	var got models.Message
	bsink.last(t, EventNewMessage, &got)
	assert.Equal(t, "hello room", got.Content)
	assert.Equal(t, "alice", got.SenderUsername)
	assert.Equal(t, 1, asink.count(EventNewMessage), "sender sees its own message")
}

func TestSendMessage_NonMemberDenied(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	secret, err := h.rooms.Create(h.ctx, bob.ID, "secret", "", true)
	require.NoError(t, err)
	as, asink := h.connect(t, alice)

	send(t, as, EventSendMessage, SendMessageRequest{RoomID: secret.ID, Content: "let me in"})

	requireErrorPush(t, asink, apperr.CodeAccessDenied)
	msgs, err := h.gw.Messages.ListByRoom(h.ctx, secret.ID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestJoinRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	secret, err := h.rooms.Create(h.ctx, bob.ID, "secret", "", true)
	require.NoError(t, err)
	as, asink := h.connect(t, alice)

	t.Run("non member", func(t *testing.T) {
		send(t, as, EventJoinRoom, RoomRequest{RoomID: secret.ID})
		requireErrorPush(t, asink, apperr.CodeAccessDenied)
		assert.False(t, h.router.InGroup(secret.ID, asink.ID()))
	})

	t.Run("member", func(t *testing.T) {
		_, err := h.msgs.SendToRoom(h.ctx, alice.ID, h.main.ID, models.NewMessage{Content: "earlier"})
		require.NoError(t, err)
		h.router.LeaveGroup(h.main.ID, asink.ID())

		send(t, as, EventJoinRoom, RoomRequest{RoomID: h.main.ID})

		assert.True(t, h.router.InGroup(h.main.ID, asink.ID()))
		var page RoomMessagesPayload
		asink.last(t, EventRoomMessages, &page)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "earlier", page.Messages[0].Content)
		var users RoomUsersPayload
		asink.last(t, EventRoomUsers, &users)
		assert.Equal(t, h.main.ID, users.RoomID)
		assert.Len(t, users.Users, 2)
	})

	t.Run("missing room id", func(t *testing.T) {
		send(t, as, EventJoinRoom, map[string]any{})
		requireErrorPush(t, asink, apperr.CodeValidationFailed)
	})
}

func TestLeaveRoom_LeavesGroupOnly(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	as, asink := h.connect(t, alice)

	send(t, as, EventLeaveRoom, RoomRequest{RoomID: h.main.ID})

	assert.False(t, h.router.InGroup(h.main.ID, asink.ID()))
	ok, err := h.gw.Memberships.IsActiveMember(h.ctx, h.main.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok, "leaving the live group keeps the membership")
}

// leavingMemberships runs afterRead once, right after the first
// ActiveForUser call returns its rows.
type leavingMemberships struct {
	repository.MembershipRepository

	mu        sync.Mutex
	afterRead func()
}

func (m *leavingMemberships) ActiveForUser(ctx context.Context, userID int64) ([]models.RoomWithRole, error) {
	rooms, err := m.MembershipRepository.ActiveForUser(ctx, userID)
	m.mu.Lock()
	fn := m.afterRead
	m.afterRead = nil
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
	return rooms, err
}

// A leave that lands between the rooms read and the group join must not
// leave the new connection in the room's group.
func TestConnect_LeaveDuringInitialize(t *testing.T) {
	mems := &leavingMemberships{}
	h := newHarness(t, func(gw repository.Gateway) repository.Gateway {
		mems.MembershipRepository = gw.Memberships
		gw.Memberships = mems
		return gw
	})
	alice := h.user(t, "alice")
	dev, err := h.rooms.Create(h.ctx, alice.ID, "dev", "Dev", false)
	require.NoError(t, err)

	var (
		left     bool
		leaveErr error
	)
	mems.mu.Lock()
	mems.afterRead = func() { left, leaveErr = h.rooms.Leave(h.ctx, alice.ID, dev.ID) }
	mems.mu.Unlock()

	_, sink := h.connect(t, alice)
	require.NoError(t, leaveErr)
	require.True(t, left)

	assert.False(t, h.router.InGroup(dev.ID, sink.ID()), "left room still grouped")
	assert.True(t, h.router.InGroup(h.main.ID, sink.ID()))

	var rooms []models.RoomWithRole
	sink.last(t, EventRoomsList, &rooms)
	require.Len(t, rooms, 1)
	assert.Equal(t, h.main.ID, rooms[0].ID)
}

func TestHandle_BadFrames(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	as, asink := h.connect(t, alice)

	cases := map[string][]byte{
		"not json":      []byte("{nope"),
		"missing event": []byte(`{"data":{}}`),
		"unknown event": []byte(`{"event":"launch_rockets"}`),
		"bad payload":   []byte(`{"event":"get_dm_messages","data":"x"}`),
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			asink.reset()
			as.Handle(h.ctx, frame)
			assert.Equal(t, []string{EventError}, asink.events())
			requireErrorPush(t, asink, apperr.CodeValidationFailed)
		})
	}
	assert.Equal(t, StateActive, as.State(), "bad frames never end the session")
}

func TestTyping(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	carol := h.user(t, "carol")
	as, asink := h.connect(t, alice)
	_, bsink := h.connect(t, bob)
	_, csink := h.connect(t, carol)

	t.Run("room", func(t *testing.T) {
		roomID := h.main.ID
		send(t, as, EventTypingStart, TypingRequest{RoomID: &roomID})

		assert.Zero(t, asink.count(EventUserTyping))
		var p TypingPayload
		bsink.last(t, EventUserTyping, &p)
		assert.Equal(t, alice.ID, p.UserID)
		assert.Equal(t, "alice", p.Username)
		require.NotNil(t, p.RoomID)
		assert.Equal(t, roomID, *p.RoomID)
		assert.Equal(t, 1, csink.count(EventUserTyping))
	})

	t.Run("direct", func(t *testing.T) {
		bsink.reset()
		csink.reset()
		bobID := bob.ID
		send(t, as, EventTypingStop, TypingRequest{RecipientID: &bobID})

		assert.Equal(t, 1, bsink.count(EventUserStoppedTyping))
		assert.Zero(t, csink.count(EventUserStoppedTyping))
	})

	t.Run("both targets", func(t *testing.T) {
		roomID, bobID := h.main.ID, bob.ID
		send(t, as, EventTypingStart, TypingRequest{RoomID: &roomID, RecipientID: &bobID})
		requireErrorPush(t, asink, apperr.CodeValidationFailed)
	})
}

func TestRefreshMyStatus(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.user(t, "bob")
	as, asink := h.connect(t, alice)
	_, bsink := h.connect(t, bob)
	asink.reset()
	bsink.reset()

	send(t, as, EventRefreshMyStatus, nil)

	assert.Equal(t, []models.UserStatus{models.StatusOnline}, bsink.statusChanges(t, alice.ID))
	assert.Equal(t, 1, asink.count(EventOnlineUsers))
	assert.Equal(t, 1, asink.count(EventFriendsListUpdated))
}

func TestGetViews(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	as, asink := h.connect(t, alice)

	for event, want := range map[string]string{
		EventGetUserRooms:           EventRoomsList,
		EventGetOnlineUsers:         EventOnlineUsers,
		EventGetDMConversations:     EventDMConversations,
		EventGetFriendsList:         EventFriendsListUpdated,
		EventGetFriendRequestsCount: EventFriendRequestsCountUpdated,
	} {
		asink.reset()
		send(t, as, event, nil)
		assert.Equal(t, []string{want}, asink.events(), event)
	}

	asink.reset()
	send(t, as, EventGetRoomUsers, RoomRequest{RoomID: h.main.ID})
	var p RoomUsersPayload
	asink.last(t, EventRoomUsers, &p)
	require.Len(t, p.Users, 1)
	assert.Equal(t, models.StatusOnline, p.Users[0].Status)
}
