// Package client is a Go implementation of the chat client's sync loop: it
// keeps a local mirror of the views the server pushes and heals itself by
// re-requesting everything after each reconnect.
package client

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/ws"
)

// SelectionKind says what the active message pane shows.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectRoom
	SelectDM
)

// Selection is the room or DM peer currently open. ID is a room ID for
// SelectRoom and the peer's user ID for SelectDM.
type Selection struct {
	Kind SelectionKind
	ID   int64
}

func (s Selection) key() string {
	switch s.Kind {
	case SelectRoom:
		return roomKey(s.ID)
	case SelectDM:
		return dmKey(s.ID)
	}
	return ""
}

func roomKey(id int64) string { return fmt.Sprintf("room:%d", id) }
func dmKey(id int64) string   { return fmt.Sprintf("dm:%d", id) }

// Request is an outbound event the view wants sent.
type Request struct {
	Event   string
	Payload any
}

// View is the client-side mirror of everything the server pushes. It is
// not safe for concurrent use; Client serializes access.
type View struct {
	Me int64

	Rooms           []models.RoomWithRole
	Friends         []models.Friend
	Conversations   []models.Conversation
	OnlineUsers     []models.User
	PendingRequests int

	Selection Selection
	// Messages and RoomUsers belong to Selection only.
	Messages  []models.Message
	RoomUsers []models.RoomUser
	// Typing holds usernames typing in the selected room or DM, by user ID.
	Typing map[int64]string

	// Unread counts new messages outside the selection, keyed "room:<id>"
	// or "dm:<peer id>".
	Unread map[string]int

	LastError *ws.ErrorPayload
}

func NewView(me int64) *View {
	return &View{
		Me:     me,
		Typing: make(map[int64]string),
		Unread: make(map[string]int),
	}
}

// Select switches the active pane and returns the requests that load it.
func (v *View) Select(sel Selection) []Request {
	v.Selection = sel
	v.Messages = nil
	v.RoomUsers = nil
	clear(v.Typing)
	delete(v.Unread, sel.key())
	return v.selectionRequests()
}

func (v *View) selectionRequests() []Request {
	switch v.Selection.Kind {
	case SelectRoom:
		// join_room answers with room_messages and room_users.
		return []Request{{Event: ws.EventJoinRoom, Payload: ws.RoomRequest{RoomID: v.Selection.ID}}}
	case SelectDM:
		return []Request{{Event: ws.EventGetDMMessages, Payload: ws.DMMessagesRequest{RecipientID: v.Selection.ID}}}
	}
	return nil
}

// ResyncRequests is the burst sent on every entry into Synced. Nothing
// missed while disconnected is replayed, so everything is fetched again.
func (v *View) ResyncRequests() []Request {
	reqs := []Request{
		{Event: ws.EventRefreshMyStatus},
		{Event: ws.EventGetUserRooms},
		{Event: ws.EventGetFriendsList},
		{Event: ws.EventGetDMConversations},
		{Event: ws.EventGetOnlineUsers},
		{Event: ws.EventGetFriendRequestsCount},
	}
	return append(reqs, v.selectionRequests()...)
}

func (v *View) inRoom(roomID int64) bool {
	return v.Selection.Kind == SelectRoom && v.Selection.ID == roomID
}

func (v *View) inDM(peerID int64) bool {
	return v.Selection.Kind == SelectDM && v.Selection.ID == peerID
}

// peerOf is the other participant of a direct message, from Me's side.
func (v *View) peerOf(m *models.Message) int64 {
	if m.SenderID == v.Me && m.RecipientID != nil {
		return *m.RecipientID
	}
	return m.SenderID
}

// Apply folds one pushed event into the view. It returns follow-up
// requests for refresh hints, which carry no data of their own. Events for
// anything other than the current selection only touch lists and badges.
func (v *View) Apply(env ws.Envelope) ([]Request, error) {
	decode := func(dst any) error {
		if len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return nil
	}

	switch env.Event {
	case ws.EventRoomsList:
		var rooms []models.RoomWithRole
		if err := decode(&rooms); err != nil {
			return nil, err
		}
		v.Rooms = rooms
		if v.Selection.Kind == SelectRoom && !slices.ContainsFunc(rooms, func(r models.RoomWithRole) bool {
			return r.ID == v.Selection.ID
		}) {
			v.Select(Selection{})
		}

	case ws.EventFriendsListUpdated:
		var p ws.FriendsListPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		v.Friends = p.Friends

	case ws.EventDMConversations:
		var convs []models.Conversation
		if err := decode(&convs); err != nil {
			return nil, err
		}
		v.Conversations = convs

	case ws.EventOnlineUsers:
		var users []models.User
		if err := decode(&users); err != nil {
			return nil, err
		}
		v.OnlineUsers = users

	case ws.EventFriendRequestsCountUpdated:
		var p ws.FriendRequestsCountPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		v.PendingRequests = p.Count

	case ws.EventRoomMessages:
		var p ws.RoomMessagesPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if v.inRoom(p.RoomID) {
			v.Messages = p.Messages
		}

	case ws.EventRoomUsers:
		var p ws.RoomUsersPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if v.inRoom(p.RoomID) {
			v.RoomUsers = p.Users
		}

	case ws.EventDMMessages:
		var p ws.DMMessagesPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if v.inDM(p.RecipientID) {
			v.Messages = p.Messages
		}

	case ws.EventNewMessage:
		var m models.Message
		if err := decode(&m); err != nil {
			return nil, err
		}
		if m.RoomID == nil {
			return nil, nil
		}
		if v.inRoom(*m.RoomID) {
			v.Messages = append(v.Messages, m)
			delete(v.Typing, m.SenderID)
		} else if m.SenderID != v.Me {
			v.Unread[roomKey(*m.RoomID)]++
		}

	case ws.EventNewDM:
		var m models.Message
		if err := decode(&m); err != nil {
			return nil, err
		}
		peer := v.peerOf(&m)
		if v.inDM(peer) {
			v.Messages = append(v.Messages, m)
			delete(v.Typing, m.SenderID)
		} else if m.SenderID != v.Me {
			v.Unread[dmKey(peer)]++
		}

	case ws.EventUserStatusChanged:
		var p ws.UserStatusPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		v.applyStatus(p)
		return []Request{{Event: ws.EventGetOnlineUsers}}, nil

	case ws.EventUserTyping, ws.EventUserStoppedTyping:
		var p ws.TypingPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if !v.typingTargetsSelection(p) {
			return nil, nil
		}
		if env.Event == ws.EventUserTyping {
			v.Typing[p.UserID] = p.Username
		} else {
			delete(v.Typing, p.UserID)
		}

	case ws.EventMessageDeleted:
		var p ws.MessageDeletedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		for i := range v.Messages {
			if v.Messages[i].ID == p.MessageID {
				v.Messages[i].IsDeleted = true
				v.Messages[i].Content = models.Tombstone
				v.Messages[i].Media = nil
			}
		}

	case ws.EventConversationDeleted:
		var p ws.ConversationDeletedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		v.Conversations = slices.DeleteFunc(v.Conversations, func(c models.Conversation) bool {
			return c.ID == p.ConversationID
		})

	case ws.EventRefreshDMMessages:
		var p ws.RefreshDMMessagesPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if v.inDM(p.UserID) {
			return v.selectionRequests(), nil
		}

	case ws.EventRefreshDMConversations:
		return []Request{{Event: ws.EventGetDMConversations}}, nil

	case ws.EventRefreshFriendsStatus:
		return []Request{{Event: ws.EventGetFriendsList}}, nil

	case ws.EventRefreshRoomUsers:
		var p ws.RefreshPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if v.Selection.Kind == SelectRoom && (p.RoomID == 0 || p.RoomID == v.Selection.ID) {
			return []Request{{Event: ws.EventGetRoomUsers, Payload: ws.RoomRequest{RoomID: v.Selection.ID}}}, nil
		}

	case ws.EventError:
		var p ws.ErrorPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		v.LastError = &p

	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
	return nil, nil
}

func (v *View) applyStatus(p ws.UserStatusPayload) {
	for i := range v.Friends {
		if v.Friends[i].UserID == p.UserID {
			v.Friends[i].Status = p.Status
		}
	}
	for i := range v.RoomUsers {
		if v.RoomUsers[i].ID == p.UserID {
			v.RoomUsers[i].Status = p.Status
		}
	}
	for i := range v.Conversations {
		if v.Conversations[i].OtherUserID == p.UserID {
			v.Conversations[i].OtherStatus = p.Status
		}
	}
	if p.Status == models.StatusOffline {
		delete(v.Typing, p.UserID)
	}
}

func (v *View) typingTargetsSelection(p ws.TypingPayload) bool {
	switch {
	case p.RoomID != nil:
		return v.inRoom(*p.RoomID)
	case p.RecipientID != nil:
		// A DM typing signal is addressed to Me; the typist is the peer.
		return *p.RecipientID == v.Me && v.inDM(p.UserID)
	}
	return false
}
