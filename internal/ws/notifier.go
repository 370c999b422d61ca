package ws

import (
	"context"

	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/service"
	"go.uber.org/zap"
)

// HubNotifier implements service.Notifier on top of the hub's router.
type HubNotifier struct {
	hub *Hub
}

var _ service.Notifier = (*HubNotifier)(nil)

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) RoomJoined(ctx context.Context, userID, roomID int64) {
	n.hub.router.JoinUser(roomID, userID)
	n.hub.pushRooms(ctx, userID)
	n.hub.router.ToRoom(roomID, EventRefreshRoomUsers, RefreshPayload{RoomID: roomID})
}

func (n *HubNotifier) RoomLeft(ctx context.Context, userID, roomID int64) {
	n.hub.router.LeaveUser(roomID, userID)
	n.hub.pushRooms(ctx, userID)
	n.hub.router.ToRoom(roomID, EventRefreshRoomUsers, RefreshPayload{RoomID: roomID})
}

// FriendshipChanged refreshes the friend views of every affected user,
// then hints everyone to re-render friend badges in open member lists.
func (n *HubNotifier) FriendshipChanged(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		n.hub.pushFriends(ctx, id)
	}
	n.hub.router.ToAll(EventRefreshFriendsStatus, RefreshPayload{})
	n.hub.router.ToAll(EventRefreshRoomUsers, RefreshPayload{})
}

func (n *HubNotifier) ConversationsChanged(_ context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		n.hub.router.ToUser(id, EventRefreshDMConversations, RefreshPayload{})
	}
}

func (n *HubNotifier) ConversationDeleted(_ context.Context, conv *models.DMConversation, deletedBy int64, messageCount int) {
	payload := ConversationDeletedPayload{
		ConversationID: conv.ID,
		DeletedBy:      deletedBy,
		MessageCount:   messageCount,
	}
	for _, id := range []int64{conv.User1ID, conv.User2ID} {
		n.hub.router.ToUser(id, EventConversationDeleted, payload)
		n.hub.router.ToUser(id, EventRefreshDMConversations, RefreshPayload{})
		n.hub.router.ToUser(id, EventRefreshDMMessages, RefreshDMMessagesPayload{UserID: conv.Other(id)})
	}
}

// MessageDeleted pushes a self-only refresh for DeleteForMe. DeleteEveryone
// reaches both participants along with a message_deleted naming the
// deleter.
func (n *HubNotifier) MessageDeleted(ctx context.Context, msg *models.Message, deletedBy int64, scope models.DeleteScope) {
	peerOf := func(id int64) int64 {
		if id == msg.SenderID {
			return *msg.RecipientID
		}
		return msg.SenderID
	}

	if scope != models.DeleteEveryone {
		n.hub.router.ToUser(deletedBy, EventRefreshDMMessages, RefreshDMMessagesPayload{UserID: peerOf(deletedBy)})
		return
	}

	payload := MessageDeletedPayload{MessageID: msg.ID, DeletedBy: deletedBy}
	if u, err := n.hub.gw.Users.GetByID(ctx, deletedBy); err != nil {
		n.hub.logger.Warn("deleter lookup failed", zap.Int64("user_id", deletedBy), zap.Error(err))
	} else if u != nil {
		payload.DeletedByUsername = u.Username
	}

	participants := []int64{msg.SenderID}
	if *msg.RecipientID != msg.SenderID {
		participants = append(participants, *msg.RecipientID)
	}
	for _, id := range participants {
		n.hub.router.ToUser(id, EventRefreshDMMessages, RefreshDMMessagesPayload{UserID: peerOf(id)})
		n.hub.router.ToUser(id, EventRefreshDMConversations, RefreshPayload{})
		n.hub.router.ToUser(id, EventMessageDeleted, payload)
	}
}
