package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jeffrywalsh/webchat/internal/models"
)

// These interfaces are the persistence gateway. Every method takes a
// context because every implementation may block on I/O.
//
// Reads that find nothing return nil, nil. Callers decide whether absence
// is an error.

// ErrRoomInactive is returned by membership writes against a room that is
// missing or deactivated.
var ErrRoomInactive = errors.New("room is not active")

// LeaveResult reports what MembershipRepository.Leave changed.
type LeaveResult struct {
	// Left is false when the user had no active membership.
	Left bool
	// RoomClosed is true when the leave emptied the room and it was
	// deactivated in the same write.
	RoomClosed bool
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, username, displayName, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// ListByIDs returns the users that exist among ids, in no particular order.
	ListByIDs(ctx context.Context, ids []int64) ([]models.User, error)
	// UpdateStatus writes the cached presence flag and, for offline, last_seen.
	UpdateStatus(ctx context.Context, userID int64, status models.UserStatus, at time.Time) error
}

// RoomRepository handles rooms themselves.
type RoomRepository interface {
	Create(ctx context.Context, name, displayName string, isPrivate bool, createdBy *int64) (*models.Room, error)

	// CreateWithOwner inserts the room and ownerID's owner membership as
	// one write. Either both exist afterwards or neither does.
	CreateWithOwner(ctx context.Context, name, displayName string, isPrivate bool, ownerID int64) (*models.Room, error)

	GetByID(ctx context.Context, roomID int64) (*models.Room, error)
	GetByName(ctx context.Context, name string) (*models.Room, error)
	// ListPublic returns active, non-private rooms.
	ListPublic(ctx context.Context) ([]models.Room, error)
	SetActive(ctx context.Context, roomID int64, active bool) error
}

// MembershipRepository handles who belongs to which room.
type MembershipRepository interface {
	// ActiveForUser returns every active room membership of userID, joined
	// with the room row. Rooms that are themselves inactive are excluded.
	ActiveForUser(ctx context.Context, userID int64) ([]models.RoomWithRole, error)

	// Get returns the membership row whether active or not.
	Get(ctx context.Context, roomID, userID int64) (*models.RoomMembership, error)

	// IsActiveMember is the hot-path check run before every room-scoped event.
	IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)

	// Add inserts a membership or reactivates an existing row. It never
	// creates a second row for the same pair. It fails with ErrRoomInactive
	// if the room is missing or deactivated at write time.
	Add(ctx context.Context, roomID, userID int64, role models.RoomRole) error

	// Deactivate flips is_active off. It reports whether a row changed.
	Deactivate(ctx context.Context, roomID, userID int64) (bool, error)

	// Leave deactivates the membership and, with closeIfEmpty, deactivates
	// the room when no active member remains. Both happen as one write that
	// is serialized against Add on the same room.
	Leave(ctx context.Context, roomID, userID int64, closeIfEmpty bool) (LeaveResult, error)

	CountActive(ctx context.Context, roomID int64) (int, error)

	// ActiveMembers returns room members joined with their user rows.
	ActiveMembers(ctx context.Context, roomID int64) ([]models.RoomUser, error)
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create validates msg and persists it.
	Create(ctx context.Context, msg models.NewMessage) (*models.Message, error)

	// CreateDirect persists a direct message together with its
	// conversation: the pair's row is found or created, revived, and its
	// last-message cache points at the new message. All or nothing.
	CreateDirect(ctx context.Context, msg models.NewMessage) (*models.Message, *models.DMConversation, error)

	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ListByRoom returns up to limit messages, skipping the offset newest,
	// in chronological order.
	ListByRoom(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error)

	// ListDirect is ListByRoom for the conversation between a and b.
	ListDirect(ctx context.Context, a, b int64, limit, offset int) ([]models.Message, error)

	// SoftDelete marks a message deleted. With tombstone the content is
	// replaced and media is dropped.
	SoftDelete(ctx context.Context, messageID int64, tombstone bool) error

	// TombstoneDirect soft-deletes every message between a and b for
	// everyone and returns how many rows changed.
	TombstoneDirect(ctx context.Context, a, b int64) (int, error)
}

// FriendshipRepository handles the single row per unordered user pair.
type FriendshipRepository interface {
	Between(ctx context.Context, a, b int64) (*models.Friendship, error)
	GetByID(ctx context.Context, friendshipID int64) (*models.Friendship, error)

	// Upsert writes the pair's row with the given direction and status,
	// inserting it if none exists.
	Upsert(ctx context.Context, requesterID, addresseeID int64, status models.FriendshipStatus) (*models.Friendship, error)

	Delete(ctx context.Context, friendshipID int64) error
	AcceptedFriendsOf(ctx context.Context, userID int64) ([]models.FriendRow, error)
	PendingRequestsTo(ctx context.Context, userID int64) ([]models.PendingRequest, error)
	CountPendingTo(ctx context.Context, userID int64) (int, error)
}

// ConversationRepository handles DM conversations.
type ConversationRepository interface {
	// FindOrCreate returns the normalized pair's conversation, creating it
	// if needed. An inactive conversation is reactivated.
	FindOrCreate(ctx context.Context, a, b int64) (*models.DMConversation, error)

	GetByID(ctx context.Context, conversationID int64) (*models.DMConversation, error)

	// ListFor returns conversations involving userID joined with the other
	// party. With visibleOnly, rows that are inactive or hidden/deleted on
	// userID's side are filtered out.
	ListFor(ctx context.Context, userID int64, visibleOnly bool) ([]models.ConversationRow, error)

	// TouchLastMessage updates the last-message cache and clears both
	// sides' hidden and deleted flags.
	TouchLastMessage(ctx context.Context, conversationID, messageID int64, at time.Time) error

	SetHidden(ctx context.Context, conversationID int64, side models.Side, hidden bool) error

	// SetDeleted stamps side's deleted_at and returns the updated row. When
	// both sides are stamped the conversation is deactivated in the same
	// write.
	SetDeleted(ctx context.Context, conversationID int64, side models.Side, at time.Time) (*models.DMConversation, error)
}

// Gateway bundles the repositories so services can take one dependency.
type Gateway struct {
	Users         UserRepository
	Rooms         RoomRepository
	Memberships   MembershipRepository
	Messages      MessageRepository
	Friendships   FriendshipRepository
	Conversations ConversationRepository
}
