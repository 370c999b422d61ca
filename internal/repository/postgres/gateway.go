package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/repository"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so a statement helper
// can run on its own or as one step of a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ dbtx = (*pgxpool.Pool)(nil)
	_ dbtx = (pgx.Tx)(nil)
)

// NewGateway wires every store to the same pool. The pool is goroutine-safe.
func NewGateway(pool *pgxpool.Pool) repository.Gateway {
	return repository.Gateway{
		Users:         NewUserStore(pool),
		Rooms:         NewRoomStore(pool),
		Memberships:   NewMembershipStore(pool),
		Messages:      NewMessageStore(pool),
		Friendships:   NewFriendshipStore(pool),
		Conversations: NewConversationStore(pool),
	}
}

var (
	_ repository.UserRepository         = (*UserStore)(nil)
	_ repository.RoomRepository         = (*RoomStore)(nil)
	_ repository.MembershipRepository   = (*MembershipStore)(nil)
	_ repository.MessageRepository      = (*MessageStore)(nil)
	_ repository.FriendshipRepository   = (*FriendshipStore)(nil)
	_ repository.ConversationRepository = (*ConversationStore)(nil)
)
