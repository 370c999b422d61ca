package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/jeffrywalsh/webchat/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ctx      context.Context
	store    *memory.DB
	gw       repository.Gateway
	registry *presence.Registry
	dir      *Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	gw := store.Gateway()
	reg := presence.NewRegistry()
	return &fixture{
		ctx:      context.Background(),
		store:    store,
		gw:       gw,
		registry: reg,
		dir:      New(gw, reg, zap.NewNop()),
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.gw.Users.Create(f.ctx, name, name, "x")
	require.NoError(t, err)
	return u
}

func TestUserRooms_Alphabetical(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	for _, name := range []string{"zeta", "Alpha", "mike"} {
		r, err := f.gw.Rooms.Create(f.ctx, "r-"+name, name, false, nil)
		require.NoError(t, err)
		require.NoError(t, f.gw.Memberships.Add(f.ctx, r.ID, u.ID, models.RoleMember))
	}
	gone, err := f.gw.Rooms.Create(f.ctx, "r-left", "Beta", false, nil)
	require.NoError(t, err)
	require.NoError(t, f.gw.Memberships.Add(f.ctx, gone.ID, u.ID, models.RoleMember))
	_, err = f.gw.Memberships.Deactivate(f.ctx, gone.ID, u.ID)
	require.NoError(t, err)

	rooms, err := f.dir.UserRooms(f.ctx, u.ID)
	require.NoError(t, err)

	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.DisplayName
	}
	assert.Equal(t, []string{"Alpha", "mike", "zeta"}, names)
}

func TestFriendsOf_ResolvesOtherPartyOnlineFirst(t *testing.T) {
	f := newFixture(t)
	me := f.user(t, "me")
	zoe := f.user(t, "zoe")
	amy := f.user(t, "amy")
	bob := f.user(t, "bob")

	// me requested zoe; amy and bob requested me.
	_, err := f.gw.Friendships.Upsert(f.ctx, me.ID, zoe.ID, models.FriendshipAccepted)
	require.NoError(t, err)
	_, err = f.gw.Friendships.Upsert(f.ctx, amy.ID, me.ID, models.FriendshipAccepted)
	require.NoError(t, err)
	_, err = f.gw.Friendships.Upsert(f.ctx, bob.ID, me.ID, models.FriendshipPending)
	require.NoError(t, err)

	f.registry.Register(zoe.ID, uuid.New())

	friends, err := f.dir.FriendsOf(f.ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, friends, 2)

	assert.Equal(t, zoe.ID, friends[0].UserID)
	assert.Equal(t, models.StatusOnline, friends[0].Status)
	assert.Equal(t, amy.ID, friends[1].UserID)
	assert.Equal(t, models.StatusOffline, friends[1].Status)

	// Same rows from the other side resolve to "me".
	theirs, err := f.dir.FriendsOf(f.ctx, amy.ID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, me.ID, theirs[0].UserID)
}

func TestDMConversations_VisibilityIsPerSide(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	b := f.user(t, "b")

	conv, err := f.gw.Conversations.FindOrCreate(f.ctx, a.ID, b.ID)
	require.NoError(t, err)
	sideA, _ := conv.SideOf(a.ID)

	require.NoError(t, f.gw.Conversations.SetHidden(f.ctx, conv.ID, sideA, true))

	forA, err := f.dir.DMConversations(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, forA)

	forB, err := f.dir.DMConversations(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, a.ID, forB[0].OtherUserID)
}

func TestDMConversations_SortedByLastMessage(t *testing.T) {
	f := newFixture(t)
	me := f.user(t, "me")
	old := f.user(t, "old")
	recent := f.user(t, "recent")
	silent := f.user(t, "silent")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, peer := range []*models.User{old, recent} {
		c, err := f.gw.Conversations.FindOrCreate(f.ctx, me.ID, peer.ID)
		require.NoError(t, err)
		m, err := f.gw.Messages.Create(f.ctx, models.NewMessage{SenderID: me.ID, RecipientID: &peer.ID, Content: "hi"})
		require.NoError(t, err)
		require.NoError(t, f.gw.Conversations.TouchLastMessage(f.ctx, c.ID, m.ID, base.Add(time.Duration(i)*time.Hour)))
	}
	_, err := f.gw.Conversations.FindOrCreate(f.ctx, me.ID, silent.ID)
	require.NoError(t, err)

	convs, err := f.dir.DMConversations(f.ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, recent.ID, convs[0].OtherUserID)
	assert.Equal(t, old.ID, convs[1].OtherUserID)
	assert.Equal(t, silent.ID, convs[2].OtherUserID)
	assert.Equal(t, "hi", convs[0].LastMessage)
}

func TestFriendshipStatus(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	b := f.user(t, "b")

	rel, err := f.dir.FriendshipStatus(f.ctx, a.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationSelf, rel)

	rel, err = f.dir.FriendshipStatus(f.ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationNone, rel)

	_, err = f.gw.Friendships.Upsert(f.ctx, a.ID, b.ID, models.FriendshipPending)
	require.NoError(t, err)

	rel, _ = f.dir.FriendshipStatus(f.ctx, a.ID, b.ID)
	assert.Equal(t, models.RelationSentRequest, rel)
	rel, _ = f.dir.FriendshipStatus(f.ctx, b.ID, a.ID)
	assert.Equal(t, models.RelationReceivedRequest, rel)
}

type failingFriendships struct {
	repository.FriendshipRepository
}

func (failingFriendships) AcceptedFriendsOf(context.Context, int64) ([]models.FriendRow, error) {
	return nil, errors.New("connection reset by peer")
}

func TestFriendsOf_GatewayFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.gw.Friendships = failingFriendships{f.gw.Friendships}
	dir := New(f.gw, f.registry, zap.NewNop())
	f.registry.Register(1, uuid.New())

	_, err := dir.FriendsOf(f.ctx, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTransientGatewayFailure, apperr.CodeOf(err))
	assert.True(t, f.registry.IsOnline(1), "presence is untouched by directory failures")
}

func TestOnlineUsers_FromRegistry(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "carla")
	b := f.user(t, "ben")
	f.user(t, "offline")

	f.registry.Register(a.ID, uuid.New())
	f.registry.Register(b.ID, uuid.New())

	users, err := f.dir.OnlineUsers(f.ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ben", users[0].Username)
	assert.Equal(t, models.StatusOnline, users[0].Status)
}

func TestClampPage(t *testing.T) {
	l, o := ClampPage(0, -5)
	assert.Equal(t, DefaultPageSize, l)
	assert.Equal(t, 0, o)

	l, _ = ClampPage(1000, 0)
	assert.Equal(t, MaxPageSize, l)
}
