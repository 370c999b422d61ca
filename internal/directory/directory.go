// Package directory computes the per-user views a client renders: room
// list, friends list, DM conversation list and room member list.
//
// Every call reads the gateway fresh. Nothing here is cached, and nothing
// here mutates presence state.
package directory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Presence is the slice of the presence registry the directory needs.
type Presence interface {
	IsOnline(userID int64) bool
	OnlineUserIDs() []int64
}

type Directory struct {
	gw       repository.Gateway
	presence Presence
	logger   *zap.Logger
}

func New(gw repository.Gateway, presence Presence, logger *zap.Logger) *Directory {
	return &Directory{gw: gw, presence: presence, logger: logger.Named("directory")}
}

func (d *Directory) unavailable(op string, err error) error {
	d.logger.Error("directory read failed", zap.String("op", op), zap.Error(err))
	return apperr.Transient(err)
}

// liveStatus prefers the registry over the persisted column, which may lag.
func (d *Directory) liveStatus(u *models.User) models.UserStatus {
	if !d.presence.IsOnline(u.ID) {
		return models.StatusOffline
	}
	if u.Status == models.StatusAway {
		return models.StatusAway
	}
	return models.StatusOnline
}

func lowerName(u *models.User) string {
	if u.DisplayName != "" {
		return strings.ToLower(u.DisplayName)
	}
	return strings.ToLower(u.Username)
}

func onlineRank(s models.UserStatus) int {
	switch s {
	case models.StatusOnline:
		return 0
	case models.StatusAway:
		return 1
	}
	return 2
}

// UserRooms returns rooms with an active membership for userID,
// alphabetical by display name.
func (d *Directory) UserRooms(ctx context.Context, userID int64) ([]models.RoomWithRole, error) {
	rooms, err := d.gw.Memberships.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, d.unavailable("user_rooms", err)
	}
	slices.SortFunc(rooms, func(a, b models.RoomWithRole) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return rooms, nil
}

// FriendsOf resolves every accepted friendship to the other party,
// online first, then alphabetical.
func (d *Directory) FriendsOf(ctx context.Context, userID int64) ([]models.Friend, error) {
	rows, err := d.gw.Friendships.AcceptedFriendsOf(ctx, userID)
	if err != nil {
		return nil, d.unavailable("friends_of", err)
	}

	friends := make([]models.Friend, 0, len(rows))
	for i := range rows {
		u := &rows[i].User
		friends = append(friends, models.Friend{
			FriendshipID: rows[i].FriendshipID,
			UserID:       u.ID,
			Username:     u.Username,
			DisplayName:  u.DisplayName,
			AvatarURL:    u.AvatarURL,
			Status:       d.liveStatus(u),
			LastSeen:     u.LastSeen,
			Since:        rows[i].Since,
		})
	}
	slices.SortFunc(friends, func(a, b models.Friend) int {
		return cmp.Or(
			cmp.Compare(onlineRank(a.Status), onlineRank(b.Status)),
			cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			cmp.Compare(a.UserID, b.UserID),
		)
	})
	return friends, nil
}

// DMConversations lists conversations visible from userID's side, most
// recent message first. Conversations without messages sort last.
func (d *Directory) DMConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := d.gw.Conversations.ListFor(ctx, userID, true)
	if err != nil {
		return nil, d.unavailable("dm_conversations", err)
	}

	convs := make([]models.Conversation, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		// The gateway filters already; this keeps the asymmetry rule in one
		// place even for gateways that filter loosely.
		if !row.VisibleTo(userID) {
			continue
		}
		convs = append(convs, models.Conversation{
			ID:               row.ID,
			OtherUserID:      row.OtherUser.ID,
			OtherUsername:    row.OtherUser.Username,
			OtherDisplayName: row.OtherUser.DisplayName,
			OtherAvatarURL:   row.OtherUser.AvatarURL,
			OtherStatus:      d.liveStatus(&row.OtherUser),
			LastMessageID:    row.LastMessageID,
			LastMessageAt:    row.LastMessageAt,
			LastMessage:      row.LastMessage,
		})
	}
	slices.SortStableFunc(convs, func(a, b models.Conversation) int {
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
			return cmp.Compare(b.ID, a.ID)
		case a.LastMessageAt == nil:
			return 1
		case b.LastMessageAt == nil:
			return -1
		}
		return cmp.Or(b.LastMessageAt.Compare(*a.LastMessageAt), cmp.Compare(b.ID, a.ID))
	})
	return convs, nil
}

// FriendshipStatus resolves the pair's single row from userID's side.
func (d *Directory) FriendshipStatus(ctx context.Context, userID, otherID int64) (models.Relation, error) {
	if userID == otherID {
		return models.RelationSelf, nil
	}
	f, err := d.gw.Friendships.Between(ctx, userID, otherID)
	if err != nil {
		return "", d.unavailable("friendship_status", err)
	}
	return models.RelationFor(f, userID), nil
}

// RoomUsers lists active members with live status, online first.
func (d *Directory) RoomUsers(ctx context.Context, roomID int64) ([]models.RoomUser, error) {
	members, err := d.gw.Memberships.ActiveMembers(ctx, roomID)
	if err != nil {
		return nil, d.unavailable("room_users", err)
	}
	for i := range members {
		members[i].Status = d.liveStatus(&members[i].User)
	}
	slices.SortFunc(members, func(a, b models.RoomUser) int {
		return cmp.Or(
			cmp.Compare(onlineRank(a.Status), onlineRank(b.Status)),
			cmp.Compare(lowerName(&a.User), lowerName(&b.User)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return members, nil
}

// OnlineUsers resolves the registry's online set to user rows.
func (d *Directory) OnlineUsers(ctx context.Context) ([]models.User, error) {
	users, err := d.gw.Users.ListByIDs(ctx, d.presence.OnlineUserIDs())
	if err != nil {
		return nil, d.unavailable("online_users", err)
	}
	for i := range users {
		users[i].Status = d.liveStatus(&users[i])
	}
	slices.SortFunc(users, func(a, b models.User) int {
		return cmp.Or(cmp.Compare(lowerName(&a), lowerName(&b)), cmp.Compare(a.ID, b.ID))
	})
	return users, nil
}

func (d *Directory) PendingRequests(ctx context.Context, userID int64) ([]models.PendingRequest, error) {
	requests, err := d.gw.Friendships.PendingRequestsTo(ctx, userID)
	if err != nil {
		return nil, d.unavailable("pending_requests", err)
	}
	return requests, nil
}

func (d *Directory) PendingCount(ctx context.Context, userID int64) (int, error) {
	n, err := d.gw.Friendships.CountPendingTo(ctx, userID)
	if err != nil {
		return 0, d.unavailable("pending_count", err)
	}
	return n, nil
}

// IsMember is checked fresh on every room-scoped event.
func (d *Directory) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	ok, err := d.gw.Memberships.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return false, d.unavailable("is_member", err)
	}
	return ok, nil
}

// RequireMember returns AccessDenied unless userID is an active member.
func (d *Directory) RequireMember(ctx context.Context, roomID, userID int64) error {
	ok, err := d.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AccessDenied("you are not a member of this room")
	}
	return nil
}

// ClampPage normalizes pagination input.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (d *Directory) RoomMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error) {
	limit, offset = ClampPage(limit, offset)
	msgs, err := d.gw.Messages.ListByRoom(ctx, roomID, limit, offset)
	if err != nil {
		return nil, d.unavailable("room_messages", err)
	}
	return msgs, nil
}

func (d *Directory) DMMessages(ctx context.Context, userID, otherID int64, limit, offset int) ([]models.Message, error) {
	limit, offset = ClampPage(limit, offset)
	msgs, err := d.gw.Messages.ListDirect(ctx, userID, otherID, limit, offset)
	if err != nil {
		return nil, d.unavailable("dm_messages", err)
	}
	return msgs, nil
}
