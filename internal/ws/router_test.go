package ws

import (
	"testing"

	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter() (*Router, *presence.Registry) {
	registry := presence.NewRegistry()
	return NewRouter(registry, observ.NewMetrics(), zap.NewNop()), registry
}

func attach(r *Router, registry *presence.Registry, userID int64) *fakeSink {
	s := newFakeSink(userID)
	r.Attach(s)
	registry.Register(userID, s.ID())
	return s
}

func TestRouter_RoomGroupsHoldConnections(t *testing.T) {
	r, registry := newTestRouter()
	a1 := attach(r, registry, 1)
	a2 := attach(r, registry, 1)
	b := attach(r, registry, 2)

	require.True(t, r.JoinGroup(10, a1.ID()))
	require.True(t, r.JoinGroup(10, b.ID()))

	n := r.ToRoom(10, EventNewMessage, map[string]string{"content": "hi"})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a1.count(EventNewMessage))
	assert.Equal(t, 0, a2.count(EventNewMessage), "a member connection outside the group gets nothing")
	assert.Equal(t, 1, b.count(EventNewMessage))
}

func TestRouter_JoinGroupRequiresAttachedSink(t *testing.T) {
	r, _ := newTestRouter()
	stray := newFakeSink(1)

	assert.False(t, r.JoinGroup(10, stray.ID()))
	assert.Zero(t, r.GroupSize(10))
}

func TestRouter_ToRoomExceptSkipsEveryDeviceOfUser(t *testing.T) {
	r, registry := newTestRouter()
	a1 := attach(r, registry, 1)
	a2 := attach(r, registry, 1)
	b := attach(r, registry, 2)
	for _, s := range []*fakeSink{a1, a2, b} {
		r.JoinGroup(10, s.ID())
	}

	n := r.ToRoomExcept(10, 1, EventUserTyping, TypingPayload{UserID: 1})
	assert.Equal(t, 1, n)
	assert.Zero(t, a1.count(EventUserTyping))
	assert.Zero(t, a2.count(EventUserTyping))
	assert.Equal(t, 1, b.count(EventUserTyping))
}

func TestRouter_ToUserReachesAllDevices(t *testing.T) {
	r, registry := newTestRouter()
	a1 := attach(r, registry, 1)
	a2 := attach(r, registry, 1)
	b := attach(r, registry, 2)

	assert.Equal(t, 2, r.ToUser(1, EventRefreshDMConversations, RefreshPayload{}))
	assert.Equal(t, 1, a1.count(EventRefreshDMConversations))
	assert.Equal(t, 1, a2.count(EventRefreshDMConversations))
	assert.Zero(t, b.count(EventRefreshDMConversations))
}

func TestRouter_ToUserOfflineIsNoop(t *testing.T) {
	r, _ := newTestRouter()
	assert.Zero(t, r.ToUser(42, EventNewDM, nil))
}

func TestRouter_ToAll(t *testing.T) {
	r, registry := newTestRouter()
	a := attach(r, registry, 1)
	b := attach(r, registry, 2)

	assert.Equal(t, 2, r.ToAll(EventRefreshFriendsStatus, RefreshPayload{}))
	assert.Equal(t, []string{EventRefreshFriendsStatus}, a.events())
	assert.Equal(t, []string{EventRefreshFriendsStatus}, b.events())
}

func TestRouter_DetachLeavesEveryGroup(t *testing.T) {
	r, registry := newTestRouter()
	a := attach(r, registry, 1)
	r.JoinGroup(10, a.ID())
	r.JoinGroup(11, a.ID())

	r.Detach(a.ID())

	assert.Zero(t, r.GroupSize(10))
	assert.Zero(t, r.GroupSize(11))
	assert.Zero(t, r.ToConn(a.ID(), EventRoomsList, nil))
}

func TestRouter_LeaveGroup(t *testing.T) {
	r, registry := newTestRouter()
	a := attach(r, registry, 1)
	r.JoinGroup(10, a.ID())

	assert.True(t, r.LeaveGroup(10, a.ID()))
	assert.False(t, r.LeaveGroup(10, a.ID()))
	assert.False(t, r.InGroup(10, a.ID()))
}

func TestRouter_JoinUserAndLeaveUser(t *testing.T) {
	r, registry := newTestRouter()
	a1 := attach(r, registry, 1)
	a2 := attach(r, registry, 1)

	r.JoinUser(10, 1)
	assert.True(t, r.InGroup(10, a1.ID()))
	assert.True(t, r.InGroup(10, a2.ID()))

	r.LeaveUser(10, 1)
	assert.Zero(t, r.GroupSize(10))
}

func TestRouter_SlowConsumerIsClosed(t *testing.T) {
	r, registry := newTestRouter()
	slow := attach(r, registry, 1)
	slow.capacity = 1
	fast := attach(r, registry, 2)

	r.ToAll(EventRefreshRoomUsers, RefreshPayload{})
	n := r.ToAll(EventRefreshRoomUsers, RefreshPayload{})

	assert.Equal(t, 1, n)
	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Equal(t, 2, fast.count(EventRefreshRoomUsers))
}
