package ws

import (
	"encoding/json"
	"fmt"

	"github.com/jeffrywalsh/webchat/internal/models"
)

// Client → Server
const (
	EventJoinRoom               = "join_room"
	EventLeaveRoom              = "leave_room"
	EventGetUserRooms           = "get_user_rooms"
	EventGetRoomUsers           = "get_room_users"
	EventGetOnlineUsers         = "get_online_users"
	EventGetDMConversations     = "get_dm_conversations"
	EventGetFriendsList         = "get_friends_list"
	EventGetFriendRequestsCount = "get_friend_requests_count"
	EventRefreshMyStatus        = "refresh_my_status"
	EventGetDMMessages          = "get_dm_messages"
	EventSendDM                 = "send_dm"
	EventSendMessage            = "send_message"
	EventTypingStart            = "typing_start"
	EventTypingStop             = "typing_stop"
)

// Server → Client
const (
	EventRoomsList                  = "rooms_list"
	EventRoomMessages               = "room_messages"
	EventRoomUsers                  = "room_users"
	EventNewMessage                 = "new_message"
	EventNewDM                      = "new_dm"
	EventDMMessages                 = "dm_messages"
	EventDMConversations            = "dm_conversations"
	EventOnlineUsers                = "online_users"
	EventUserStatusChanged          = "user_status_changed"
	EventFriendsListUpdated         = "friends_list_updated"
	EventFriendRequestsCountUpdated = "friend_requests_count_updated"
	EventUserTyping                 = "user_typing"
	EventUserStoppedTyping          = "user_stopped_typing"
	EventMessageDeleted             = "message_deleted"
	EventConversationDeleted        = "conversation_deleted"
	EventRefreshDMMessages          = "refresh_dm_messages"
	EventRefreshDMConversations     = "refresh_dm_conversations"
	EventRefreshFriendsStatus       = "refresh_friends_status"
	EventRefreshRoomUsers           = "refresh_room_users"
	EventError                      = "error"
)

// Envelope is the frame for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// --- Client → Server payloads ---

type RoomRequest struct {
	RoomID int64 `json:"roomId"`
}

type DMMessagesRequest struct {
	RecipientID int64 `json:"recipientId"`
	Limit       int   `json:"limit"`
	Offset      int   `json:"offset"`
}

type SendDMRequest struct {
	RecipientID int64              `json:"recipientId"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType"`
	Media       *models.MediaMeta  `json:"media,omitempty"`
}

type SendMessageRequest struct {
	RoomID      int64              `json:"roomId"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType"`
	Media       *models.MediaMeta  `json:"media,omitempty"`
}

// TypingRequest names exactly one of a room or a DM peer.
type TypingRequest struct {
	RoomID      *int64 `json:"roomId,omitempty"`
	RecipientID *int64 `json:"recipientId,omitempty"`
}

// --- Server → Client payloads ---

type RoomMessagesPayload struct {
	RoomID   int64            `json:"roomId"`
	Messages []models.Message `json:"messages"`
}

type RoomUsersPayload struct {
	RoomID int64             `json:"roomId"`
	Users  []models.RoomUser `json:"users"`
}

type DMMessagesPayload struct {
	RecipientID int64            `json:"recipientId"`
	Messages    []models.Message `json:"messages"`
}

type UserStatusPayload struct {
	UserID   int64             `json:"userId"`
	Username string            `json:"username"`
	Status   models.UserStatus `json:"status"`
}

type FriendsListPayload struct {
	Friends []models.Friend `json:"friends"`
}

type FriendRequestsCountPayload struct {
	Count int `json:"count"`
}

// TypingPayload carries the typist. RecipientID is set on DM typing and
// names the user being typed to.
type TypingPayload struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	RoomID      *int64 `json:"roomId,omitempty"`
	RecipientID *int64 `json:"recipientId,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID         int64  `json:"messageId"`
	DeletedBy         int64  `json:"deletedBy"`
	DeletedByUsername string `json:"deletedByUsername,omitempty"`
}

type ConversationDeletedPayload struct {
	ConversationID int64 `json:"conversationId"`
	DeletedBy      int64 `json:"deletedBy"`
	MessageCount   int   `json:"messageCount"`
}

// RefreshDMMessagesPayload names the peer whose conversation changed.
type RefreshDMMessagesPayload struct {
	UserID int64 `json:"userId"`
}

// RefreshPayload is the body of the bare refresh hints. RoomID is only set
// when a hint concerns one room.
type RefreshPayload struct {
	RoomID int64 `json:"roomId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
