package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the upper bound on trimmed message content, counted
// in characters.
const MaxContentLength = 2000

// Tombstone replaces the content of a message deleted for everyone.
const Tombstone = "This message was deleted"

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusOffline UserStatus = "offline"
)

// User is a registered account.
//
// Status is a cache of the presence registry: it is written on every
// online/offline edge and may lag behind the live session count.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       UserStatus `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Room is a named group conversation. Rooms are never hard-deleted;
// IsActive=false hides them.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	IsPrivate   bool      `json:"is_private"`
	IsActive    bool      `json:"is_active"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type RoomRole string

const (
	RoleOwner  RoomRole = "owner"
	RoleAdmin  RoomRole = "admin"
	RoleMember RoomRole = "member"
)

// RoomMembership is unique per (room, user). Leaving flips IsActive
// instead of deleting the row.
type RoomMembership struct {
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	Role     RoomRole  `json:"role"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomWithRole is one entry of a user's room list.
type RoomWithRole struct {
	Room
	Role RoomRole `json:"role"`
}

// RoomUser is one entry of a room's member list.
type RoomUser struct {
	User
	Role RoomRole `json:"role"`
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is the single row for an unordered pair of users.
type Friendship struct {
	ID          int64            `json:"id"`
	RequesterID int64            `json:"requester_id"`
	AddresseeID int64            `json:"addressee_id"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Involves reports whether userID is either side of the row.
func (f *Friendship) Involves(userID int64) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

// Other returns the party that is not userID.
func (f *Friendship) Other(userID int64) int64 {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// Relation is a friendship row seen from one user's perspective.
type Relation string

const (
	RelationSelf            Relation = "self"
	RelationNone            Relation = "none"
	RelationFriends         Relation = "friends"
	RelationSentRequest     Relation = "sent_request"
	RelationReceivedRequest Relation = "received_request"
	RelationRejected        Relation = "rejected"
	RelationBlocked         Relation = "blocked"
)

// RelationFor resolves f from userID's side. A nil row means no relation.
func RelationFor(f *Friendship, userID int64) Relation {
	if f == nil {
		return RelationNone
	}
	switch f.Status {
	case FriendshipAccepted:
		return RelationFriends
	case FriendshipPending:
		if f.RequesterID == userID {
			return RelationSentRequest
		}
		return RelationReceivedRequest
	case FriendshipRejected:
		return RelationRejected
	case FriendshipBlocked:
		return RelationBlocked
	}
	return RelationNone
}

// FriendRow is an accepted friendship joined with the other party's user
// row, as returned by the gateway.
type FriendRow struct {
	FriendshipID int64     `json:"friendship_id"`
	Since        time.Time `json:"since"`
	User         User      `json:"user"`
}

// Friend is one entry of a friends list, with live presence resolved.
type Friend struct {
	FriendshipID int64      `json:"friendship_id"`
	UserID       int64      `json:"user_id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       UserStatus `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Since        time.Time  `json:"since"`
}

// PendingRequest is an incoming friend request.
type PendingRequest struct {
	FriendshipID int64     `json:"friendship_id"`
	From         User      `json:"from"`
	CreatedAt    time.Time `json:"created_at"`
}

// Side identifies one participant slot of a DM conversation.
type Side int

const (
	Side1 Side = 1
	Side2 Side = 2
)

// NormalizePair orders two user IDs so that the smaller one is user1.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// DMConversation is the persistent pairing of two users, stored with
// User1ID < User2ID. Hidden and DeletedAt are tracked per side.
type DMConversation struct {
	ID             int64      `json:"id"`
	User1ID        int64      `json:"user1_id"`
	User2ID        int64      `json:"user2_id"`
	User1Hidden    bool       `json:"-"`
	User2Hidden    bool       `json:"-"`
	User1DeletedAt *time.Time `json:"-"`
	User2DeletedAt *time.Time `json:"-"`
	IsActive       bool       `json:"is_active"`
	LastMessageID  *int64     `json:"last_message_id,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SideOf returns userID's slot, or false if userID is not a participant.
func (c *DMConversation) SideOf(userID int64) (Side, bool) {
	switch userID {
	case c.User1ID:
		return Side1, true
	case c.User2ID:
		return Side2, true
	}
	return 0, false
}

// Other returns the participant that is not userID.
func (c *DMConversation) Other(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// VisibleTo applies the per-side filter: active, not hidden by userID and
// not deleted by userID. The other side's flags never matter.
func (c *DMConversation) VisibleTo(userID int64) bool {
	if !c.IsActive {
		return false
	}
	side, ok := c.SideOf(userID)
	if !ok {
		return false
	}
	if side == Side1 {
		return !c.User1Hidden && c.User1DeletedAt == nil
	}
	return !c.User2Hidden && c.User2DeletedAt == nil
}

// DeletedByBoth reports whether both sides have deleted the conversation.
func (c *DMConversation) DeletedByBoth() bool {
	return c.User1DeletedAt != nil && c.User2DeletedAt != nil
}

// ConversationRow is a conversation joined with the other participant and
// the last message preview, as returned by the gateway for one viewer.
type ConversationRow struct {
	DMConversation
	OtherUser   User   `json:"other_user"`
	LastMessage string `json:"last_message,omitempty"`
}

// Conversation is one entry of a viewer's DM list.
type Conversation struct {
	ID               int64      `json:"id"`
	OtherUserID      int64      `json:"other_user_id"`
	OtherUsername    string     `json:"other_username"`
	OtherDisplayName string     `json:"other_display_name"`
	OtherAvatarURL   string     `json:"other_avatar_url,omitempty"`
	OtherStatus      UserStatus `json:"other_status"`
	LastMessageID    *int64     `json:"last_message_id,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	LastMessage      string     `json:"last_message,omitempty"`
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageLink  MessageType = "link"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageLink:
		return true
	}
	return false
}

// MediaMeta is opaque attachment metadata produced by the upload and link
// preview collaborators.
type MediaMeta struct {
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
}

// DeleteScope records how a message was soft-deleted.
type DeleteScope string

const (
	DeleteNone     DeleteScope = ""
	DeleteForMe    DeleteScope = "me"
	DeleteEveryone DeleteScope = "everyone"
)

// Message is either a room message (RoomID set) or a direct message
// (RecipientID set), never both and never neither. IDs are monotonic per
// insert, which gives per-room and per-conversation order.
type Message struct {
	ID                int64       `json:"id"`
	SenderID          int64       `json:"sender_id"`
	SenderUsername    string      `json:"sender_username,omitempty"`
	SenderDisplayName string      `json:"sender_display_name,omitempty"`
	RoomID            *int64      `json:"room_id,omitempty"`
	RecipientID       *int64      `json:"recipient_id,omitempty"`
	Type              MessageType `json:"message_type"`
	Content           string      `json:"content"`
	Media             *MediaMeta  `json:"media,omitempty"`
	IsDeleted         bool        `json:"is_deleted"`
	DeleteScope       DeleteScope `json:"-"`
	CreatedAt         time.Time   `json:"created_at"`
}

// IsDirect reports whether m is a direct message.
func (m *Message) IsDirect() bool { return m.RecipientID != nil }

// NewMessage is the input to message creation.
type NewMessage struct {
	SenderID    int64
	RoomID      *int64
	RecipientID *int64
	Type        MessageType
	Content     string
	Media       *MediaMeta
}

// Validate checks target exclusivity, type and content length. Content is
// trimmed in place.
func (n *NewMessage) Validate() error {
	if (n.RoomID == nil) == (n.RecipientID == nil) {
		return ErrMessageTarget
	}
	if n.Type == "" {
		n.Type = MessageText
	}
	if !n.Type.Valid() {
		return ErrMessageType
	}
	n.Content = strings.TrimSpace(n.Content)
	length := utf8.RuneCountInString(n.Content)
	if length == 0 {
		return ErrContentEmpty
	}
	if length > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
