package postgres

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/db"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	flag.Parse()
	if testing.Short() {
		return m.Run()
	}
	ctx := context.Background()

	container, err := startPostgres(ctx)
	if err != nil {
		// testPool stays nil and newGateway skips every test.
		log.Printf("postgres container unavailable: %v", err)
		return m.Run()
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("connection string: %v", err)
		return 1
	}

	database, err := db.New(ctx, connStr, zap.NewNop())
	if err != nil {
		log.Printf("connect: %v", err)
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Printf("migrate: %v", err)
		return 1
	}
	testPool = database.Pool()

	return m.Run()
}

// startPostgres turns the panic testcontainers raises when no Docker host
// can be found into an error.
func startPostgres(ctx context.Context) (container *tcpostgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			container, err = nil, fmt.Errorf("container runtime: %v", r)
		}
	}()
	return tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("webchat"),
		tcpostgres.WithUsername("webchat"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
}

func newGateway(t *testing.T) repository.Gateway {
	t.Helper()
	if testing.Short() || testPool == nil {
		t.Skip("postgres container not available")
	}
	return NewGateway(testPool)
}

func createUser(t *testing.T, gw repository.Gateway, name string) *models.User {
	t.Helper()
	u, err := gw.Users.Create(context.Background(), name+"_"+time.Now().Format("150405.000000000"), name, "hash")
	require.NoError(t, err)
	return u
}

func TestUserStore_StatusRoundTrip(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	u := createUser(t, gw, "alice")

	assert.Equal(t, models.StatusOffline, u.Status)

	require.NoError(t, gw.Users.UpdateStatus(ctx, u.ID, models.StatusOnline, time.Now()))
	got, err := gw.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)

	seen := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, gw.Users.UpdateStatus(ctx, u.ID, models.StatusOffline, seen))
	got, err = gw.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeen)
	assert.WithinDuration(t, seen, *got.LastSeen, time.Millisecond)

	missing, err := gw.Users.GetByID(ctx, -1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMembershipStore_RejoinReactivates(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	u := createUser(t, gw, "bob")
	room, err := gw.Rooms.Create(ctx, "pg-room-"+time.Now().Format("150405.000000000"), "PG Room", false, &u.ID)
	require.NoError(t, err)

	require.NoError(t, gw.Memberships.Add(ctx, room.ID, u.ID, models.RoleOwner))
	changed, err := gw.Memberships.Deactivate(ctx, room.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = gw.Memberships.Deactivate(ctx, room.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, gw.Memberships.Add(ctx, room.ID, u.ID, models.RoleMember))
	m, err := gw.Memberships.Get(ctx, room.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, m.IsActive)
	assert.Equal(t, models.RoleOwner, m.Role)

	n, err := gw.Memberships.CountActive(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFriendshipStore_UpsertKeepsOneRow(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	a := createUser(t, gw, "carol")
	b := createUser(t, gw, "dave")

	first, err := gw.Friendships.Upsert(ctx, a.ID, b.ID, models.FriendshipRejected)
	require.NoError(t, err)

	second, err := gw.Friendships.Upsert(ctx, b.ID, a.ID, models.FriendshipPending)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, b.ID, second.RequesterID)

	got, err := gw.Friendships.Between(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipPending, got.Status)

	count, err := gw.Friendships.CountPendingTo(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConversationStore_DeleteBothSides(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	a := createUser(t, gw, "erin")
	b := createUser(t, gw, "frank")

	conv, err := gw.Conversations.FindOrCreate(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Less(t, conv.User1ID, conv.User2ID)

	msg, err := gw.Messages.Create(ctx, models.NewMessage{SenderID: a.ID, RecipientID: &b.ID, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, gw.Conversations.TouchLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt))

	sideA, _ := conv.SideOf(a.ID)
	sideB, _ := conv.SideOf(b.ID)

	after, err := gw.Conversations.SetDeleted(ctx, conv.ID, sideA, time.Now())
	require.NoError(t, err)
	assert.True(t, after.IsActive)

	rows, err := gw.Conversations.ListFor(ctx, b.ID, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hi", rows[0].LastMessage)

	after, err = gw.Conversations.SetDeleted(ctx, conv.ID, sideB, time.Now())
	require.NoError(t, err)
	assert.False(t, after.IsActive)

	n, err := gw.Messages.TombstoneDirect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := gw.Messages.ListDirect(ctx, a.ID, b.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.Tombstone, msgs[0].Content)
}

func uniqueName(prefix string) string {
	return prefix + "-" + time.Now().Format("150405000000000")
}

func TestRoomStore_CreateWithOwnerRollsBack(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	name := uniqueName("pg-orphan")

	// The owner does not exist, so the membership insert violates its
	// foreign key after the room row was written inside the transaction.
	_, err := gw.Rooms.CreateWithOwner(ctx, name, "Orphan", false, -1)
	require.Error(t, err)

	room, err := gw.Rooms.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, room)

	u := createUser(t, gw, "gina")
	room, err = gw.Rooms.CreateWithOwner(ctx, name, "Orphan", false, u.ID)
	require.NoError(t, err)
	m, err := gw.Memberships.Get(ctx, room.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, m.Role)
}

func TestMembershipStore_LeaveClosesEmptyRoom(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	a := createUser(t, gw, "hank")
	b := createUser(t, gw, "ivy")

	room, err := gw.Rooms.CreateWithOwner(ctx, uniqueName("pg-leave"), "Leave", false, a.ID)
	require.NoError(t, err)
	require.NoError(t, gw.Memberships.Add(ctx, room.ID, b.ID, models.RoleMember))

	res, err := gw.Memberships.Leave(ctx, room.ID, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, repository.LeaveResult{Left: true}, res)

	res, err = gw.Memberships.Leave(ctx, room.ID, b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, repository.LeaveResult{Left: true, RoomClosed: true}, res)

	err = gw.Memberships.Add(ctx, room.ID, b.ID, models.RoleMember)
	assert.ErrorIs(t, err, repository.ErrRoomInactive)

	n, err := gw.Memberships.CountActive(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMessageStore_CreateDirect(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	a := createUser(t, gw, "jack")
	b := createUser(t, gw, "kim")

	msg, conv, err := gw.Messages.CreateDirect(ctx, models.NewMessage{SenderID: b.ID, RecipientID: &a.ID, Content: "yo"})
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, msg.ID, *conv.LastMessageID)
	assert.True(t, conv.IsActive)

	again, err := gw.Conversations.FindOrCreate(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	// A missing recipient fails the insert and rolls the conversation back.
	missing := int64(-1)
	_, _, err = gw.Messages.CreateDirect(ctx, models.NewMessage{SenderID: a.ID, RecipientID: &missing, Content: "lost"})
	require.Error(t, err)
	rows, err := gw.Conversations.ListFor(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
