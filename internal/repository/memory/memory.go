// Package memory is a process-local implementation of the persistence
// gateway. It backs the server when no DATABASE_URL is configured and is
// the store used by unit tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
)

type memberKey struct{ room, user int64 }
type pairKey struct{ lo, hi int64 }

func pairOf(a, b int64) pairKey {
	lo, hi := models.NormalizePair(a, b)
	return pairKey{lo, hi}
}

// DB is the shared state behind every store. All methods copy values in
// and out so callers never alias stored rows.
type DB struct {
	mu  sync.RWMutex
	now func() time.Time

	seq int64

	users         map[int64]*models.User
	rooms         map[int64]*models.Room
	members       map[memberKey]*models.RoomMembership
	messages      []*models.Message
	friendships   map[int64]*models.Friendship
	conversations map[int64]*models.DMConversation
}

func New() *DB {
	return &DB{
		now:           time.Now,
		users:         make(map[int64]*models.User),
		rooms:         make(map[int64]*models.Room),
		members:       make(map[memberKey]*models.RoomMembership),
		friendships:   make(map[int64]*models.Friendship),
		conversations: make(map[int64]*models.DMConversation),
	}
}

// SetClock overrides the time source. Tests use it to order conversations.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func (db *DB) nextID() int64 {
	db.seq++
	return db.seq
}

// Gateway exposes the stores as the repository interfaces.
func (db *DB) Gateway() repository.Gateway {
	return repository.Gateway{
		Users:         (*UserStore)(db),
		Rooms:         (*RoomStore)(db),
		Memberships:   (*MembershipStore)(db),
		Messages:      (*MessageStore)(db),
		Friendships:   (*FriendshipStore)(db),
		Conversations: (*ConversationStore)(db),
	}
}

// NewGateway is shorthand for New().Gateway().
func NewGateway() repository.Gateway {
	return New().Gateway()
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------
// Users
// ---------------------------------------------------------------

type UserStore DB

func (s *UserStore) db() *DB { return (*DB)(s) }

func (s *UserStore) Create(ctx context.Context, username, displayName, passwordHash string) (*models.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Username, username) {
			return nil, fmt.Errorf("insert user: username %q already exists", username)
		}
	}
	u := &models.User{
		ID:           db.nextID(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Status:       models.StatusOffline,
		CreatedAt:    db.now(),
	}
	db.users[u.ID] = u
	out := *u
	return &out, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Username, username) {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (s *UserStore) ListByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *UserStore) UpdateStatus(ctx context.Context, userID int64, status models.UserStatus, at time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[userID]
	if !ok {
		return nil
	}
	u.Status = status
	if status == models.StatusOffline {
		seen := at
		u.LastSeen = &seen
	}
	return nil
}

// ---------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------

type RoomStore DB

func (s *RoomStore) db() *DB { return (*DB)(s) }

func (s *RoomStore) Create(ctx context.Context, name, displayName string, isPrivate bool, createdBy *int64) (*models.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	r, err := db.insertRoom(name, displayName, isPrivate, createdBy)
	if err != nil {
		return nil, err
	}
	out := *r
	return &out, nil
}

// CreateWithOwner checks both writes before applying either, so a failure
// leaves nothing behind.
func (s *RoomStore) CreateWithOwner(ctx context.Context, name, displayName string, isPrivate bool, ownerID int64) (*models.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[ownerID]; !ok {
		return nil, fmt.Errorf("insert room member: user %d not found", ownerID)
	}
	r, err := db.insertRoom(name, displayName, isPrivate, &ownerID)
	if err != nil {
		return nil, err
	}
	if err := db.addMember(r.ID, ownerID, models.RoleOwner); err != nil {
		delete(db.rooms, r.ID)
		return nil, err
	}
	out := *r
	return &out, nil
}

// insertRoom must be called with mu held.
func (db *DB) insertRoom(name, displayName string, isPrivate bool, createdBy *int64) (*models.Room, error) {
	for _, r := range db.rooms {
		if r.Name == name {
			return nil, fmt.Errorf("insert room: name %q already exists", name)
		}
	}
	r := &models.Room{
		ID:          db.nextID(),
		Name:        name,
		DisplayName: displayName,
		IsPrivate:   isPrivate,
		IsActive:    true,
		CreatedBy:   createdBy,
		CreatedAt:   db.now(),
	}
	db.rooms[r.ID] = r
	return r, nil
}

func (s *RoomStore) GetByID(ctx context.Context, roomID int64) (*models.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	r, ok := db.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *RoomStore) GetByName(ctx context.Context, name string) (*models.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, r := range db.rooms {
		if r.Name == name {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *RoomStore) ListPublic(ctx context.Context) ([]models.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := make([]models.Room, 0)
	for _, r := range db.rooms {
		if r.IsActive && !r.IsPrivate {
			rooms = append(rooms, *r)
		}
	}
	slices.SortFunc(rooms, func(a, b models.Room) int {
		return cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
	})
	return rooms, nil
}

func (s *RoomStore) SetActive(ctx context.Context, roomID int64, active bool) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	if r, ok := db.rooms[roomID]; ok {
		r.IsActive = active
	}
	return nil
}

// ---------------------------------------------------------------
// Memberships
// ---------------------------------------------------------------

type MembershipStore DB

func (s *MembershipStore) db() *DB { return (*DB)(s) }

func (s *MembershipStore) ActiveForUser(ctx context.Context, userID int64) ([]models.RoomWithRole, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := make([]models.RoomWithRole, 0)
	for k, m := range db.members {
		if k.user != userID || !m.IsActive {
			continue
		}
		r, ok := db.rooms[k.room]
		if !ok || !r.IsActive {
			continue
		}
		rooms = append(rooms, models.RoomWithRole{Room: *r, Role: m.Role})
	}
	return rooms, nil
}

func (s *MembershipStore) Get(ctx context.Context, roomID, userID int64) (*models.RoomMembership, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	m, ok := db.members[memberKey{roomID, userID}]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (s *MembershipStore) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	m, err := s.Get(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	return m != nil && m.IsActive, nil
}

func (s *MembershipStore) Add(ctx context.Context, roomID, userID int64, role models.RoomRole) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.addMember(roomID, userID, role)
}

// addMember must be called with mu held.
func (db *DB) addMember(roomID, userID int64, role models.RoomRole) error {
	if r, ok := db.rooms[roomID]; !ok || !r.IsActive {
		return repository.ErrRoomInactive
	}
	key := memberKey{roomID, userID}
	if m, ok := db.members[key]; ok {
		m.IsActive = true
		m.JoinedAt = db.now()
		return nil
	}
	db.members[key] = &models.RoomMembership{
		RoomID:   roomID,
		UserID:   userID,
		Role:     role,
		IsActive: true,
		JoinedAt: db.now(),
	}
	return nil
}

func (s *MembershipStore) Deactivate(ctx context.Context, roomID, userID int64) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.deactivateMember(roomID, userID), nil
}

// deactivateMember must be called with mu held.
func (db *DB) deactivateMember(roomID, userID int64) bool {
	m, ok := db.members[memberKey{roomID, userID}]
	if !ok || !m.IsActive {
		return false
	}
	m.IsActive = false
	return true
}

// countActive must be called with mu held.
func (db *DB) countActive(roomID int64) int {
	n := 0
	for k, m := range db.members {
		if k.room == roomID && m.IsActive {
			n++
		}
	}
	return n
}

func (s *MembershipStore) Leave(ctx context.Context, roomID, userID int64, closeIfEmpty bool) (repository.LeaveResult, error) {
	var res repository.LeaveResult
	if err := ctxErr(ctx); err != nil {
		return res, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	if res.Left = db.deactivateMember(roomID, userID); !res.Left {
		return res, nil
	}
	if closeIfEmpty && db.countActive(roomID) == 0 {
		if r, ok := db.rooms[roomID]; ok && r.IsActive {
			r.IsActive = false
			res.RoomClosed = true
		}
	}
	return res, nil
}

func (s *MembershipStore) CountActive(ctx context.Context, roomID int64) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.countActive(roomID), nil
}

func (s *MembershipStore) ActiveMembers(ctx context.Context, roomID int64) ([]models.RoomUser, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	members := make([]models.RoomUser, 0)
	for k, m := range db.members {
		if k.room != roomID || !m.IsActive {
			continue
		}
		if u, ok := db.users[k.user]; ok {
			members = append(members, models.RoomUser{User: *u, Role: m.Role})
		}
	}
	return members, nil
}

// ---------------------------------------------------------------
// Messages
// ---------------------------------------------------------------

type MessageStore DB

func (s *MessageStore) db() *DB { return (*DB)(s) }

func (db *DB) hydrate(m *models.Message) models.Message {
	out := *m
	if u, ok := db.users[m.SenderID]; ok {
		out.SenderUsername = u.Username
		out.SenderDisplayName = u.DisplayName
	}
	if m.Media != nil {
		media := *m.Media
		out.Media = &media
	}
	return out
}

func (s *MessageStore) Create(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	out := db.hydrate(db.insertMessage(in))
	return &out, nil
}

func (s *MessageStore) CreateDirect(ctx context.Context, in models.NewMessage) (*models.Message, *models.DMConversation, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if in.RecipientID == nil {
		return nil, nil, models.ErrMessageTarget
	}
	if err := ctxErr(ctx); err != nil {
		return nil, nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	c := db.findOrCreateConversation(in.SenderID, *in.RecipientID)
	m := db.insertMessage(in)
	touchConversation(c, m.ID, m.CreatedAt)

	msg := db.hydrate(m)
	conv := *c
	return &msg, &conv, nil
}

// insertMessage must be called with mu held.
func (db *DB) insertMessage(in models.NewMessage) *models.Message {
	m := &models.Message{
		ID:          db.nextID(),
		SenderID:    in.SenderID,
		RoomID:      in.RoomID,
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Content:     in.Content,
		Media:       in.Media,
		CreatedAt:   db.now(),
	}
	db.messages = append(db.messages, m)
	return m
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, m := range db.messages {
		if m.ID == messageID {
			out := db.hydrate(m)
			return &out, nil
		}
	}
	return nil, nil
}

// page walks newest-first, applies offset/limit, and returns oldest-first.
func (db *DB) page(match func(*models.Message) bool, limit, offset int) []models.Message {
	out := make([]models.Message, 0)
	skipped := 0
	for i := len(db.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := db.messages[i]
		if !match(m) || m.DeleteScope == models.DeleteForMe {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, db.hydrate(m))
	}
	slices.Reverse(out)
	return out
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.page(func(m *models.Message) bool {
		return m.RoomID != nil && *m.RoomID == roomID
	}, limit, offset), nil
}

func isBetween(m *models.Message, a, b int64) bool {
	if m.RecipientID == nil {
		return false
	}
	r := *m.RecipientID
	return (m.SenderID == a && r == b) || (m.SenderID == b && r == a)
}

func (s *MessageStore) ListDirect(ctx context.Context, a, b int64, limit, offset int) ([]models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.page(func(m *models.Message) bool { return isBetween(m, a, b) }, limit, offset), nil
}

func tombstone(m *models.Message) {
	m.IsDeleted = true
	m.DeleteScope = models.DeleteEveryone
	m.Content = models.Tombstone
	m.Type = models.MessageText
	m.Media = nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID int64, everyone bool) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, m := range db.messages {
		if m.ID != messageID {
			continue
		}
		if everyone {
			tombstone(m)
		} else {
			m.IsDeleted = true
			if m.DeleteScope != models.DeleteEveryone {
				m.DeleteScope = models.DeleteForMe
			}
		}
		return nil
	}
	return nil
}

func (s *MessageStore) TombstoneDirect(ctx context.Context, a, b int64) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	n := 0
	for _, m := range db.messages {
		if isBetween(m, a, b) && m.DeleteScope != models.DeleteEveryone {
			tombstone(m)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------
// Friendships
// ---------------------------------------------------------------

type FriendshipStore DB

func (s *FriendshipStore) db() *DB { return (*DB)(s) }

func (db *DB) friendshipBetween(a, b int64) *models.Friendship {
	key := pairOf(a, b)
	for _, f := range db.friendships {
		if pairOf(f.RequesterID, f.AddresseeID) == key {
			return f
		}
	}
	return nil
}

func (s *FriendshipStore) Between(ctx context.Context, a, b int64) (*models.Friendship, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	f := db.friendshipBetween(a, b)
	if f == nil {
		return nil, nil
	}
	out := *f
	return &out, nil
}

func (s *FriendshipStore) GetByID(ctx context.Context, friendshipID int64) (*models.Friendship, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	f, ok := db.friendships[friendshipID]
	if !ok {
		return nil, nil
	}
	out := *f
	return &out, nil
}

func (s *FriendshipStore) Upsert(ctx context.Context, requesterID, addresseeID int64, status models.FriendshipStatus) (*models.Friendship, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if requesterID == addresseeID {
		return nil, fmt.Errorf("upsert friendship: requester equals addressee")
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	f := db.friendshipBetween(requesterID, addresseeID)
	if f == nil {
		f = &models.Friendship{ID: db.nextID(), CreatedAt: now}
		db.friendships[f.ID] = f
	}
	f.RequesterID = requesterID
	f.AddresseeID = addresseeID
	f.Status = status
	f.UpdatedAt = now
	out := *f
	return &out, nil
}

func (s *FriendshipStore) Delete(ctx context.Context, friendshipID int64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.friendships, friendshipID)
	return nil
}

func (s *FriendshipStore) AcceptedFriendsOf(ctx context.Context, userID int64) ([]models.FriendRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	friends := make([]models.FriendRow, 0)
	for _, f := range db.friendships {
		if f.Status != models.FriendshipAccepted || !f.Involves(userID) {
			continue
		}
		if u, ok := db.users[f.Other(userID)]; ok {
			friends = append(friends, models.FriendRow{FriendshipID: f.ID, Since: f.UpdatedAt, User: *u})
		}
	}
	return friends, nil
}

func (s *FriendshipStore) PendingRequestsTo(ctx context.Context, userID int64) ([]models.PendingRequest, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	requests := make([]models.PendingRequest, 0)
	for _, f := range db.friendships {
		if f.Status != models.FriendshipPending || f.AddresseeID != userID {
			continue
		}
		if u, ok := db.users[f.RequesterID]; ok {
			requests = append(requests, models.PendingRequest{FriendshipID: f.ID, From: *u, CreatedAt: f.CreatedAt})
		}
	}
	slices.SortFunc(requests, func(a, b models.PendingRequest) int {
		return cmp.Compare(b.FriendshipID, a.FriendshipID)
	})
	return requests, nil
}

func (s *FriendshipStore) CountPendingTo(ctx context.Context, userID int64) (int, error) {
	requests, err := s.PendingRequestsTo(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(requests), nil
}

// ---------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------

type ConversationStore DB

func (s *ConversationStore) db() *DB { return (*DB)(s) }

func (s *ConversationStore) FindOrCreate(ctx context.Context, a, b int64) (*models.DMConversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	out := *db.findOrCreateConversation(a, b)
	return &out, nil
}

// findOrCreateConversation must be called with mu held.
func (db *DB) findOrCreateConversation(a, b int64) *models.DMConversation {
	u1, u2 := models.NormalizePair(a, b)
	for _, c := range db.conversations {
		if c.User1ID == u1 && c.User2ID == u2 {
			if !c.IsActive {
				c.IsActive = true
				c.User1DeletedAt = nil
				c.User2DeletedAt = nil
			}
			return c
		}
	}
	c := &models.DMConversation{
		ID:        db.nextID(),
		User1ID:   u1,
		User2ID:   u2,
		IsActive:  true,
		CreatedAt: db.now(),
	}
	db.conversations[c.ID] = c
	return c
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID int64) (*models.DMConversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *ConversationStore) ListFor(ctx context.Context, userID int64, visibleOnly bool) ([]models.ConversationRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows := make([]models.ConversationRow, 0)
	for _, c := range db.conversations {
		if _, ok := c.SideOf(userID); !ok {
			continue
		}
		if visibleOnly && !c.VisibleTo(userID) {
			continue
		}
		other, ok := db.users[c.Other(userID)]
		if !ok {
			continue
		}
		row := models.ConversationRow{DMConversation: *c, OtherUser: *other}
		if c.LastMessageID != nil {
			for _, m := range db.messages {
				if m.ID == *c.LastMessageID {
					row.LastMessage = m.Content
					break
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID, messageID int64, at time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.conversations[conversationID]; ok {
		touchConversation(c, messageID, at)
	}
	return nil
}

func touchConversation(c *models.DMConversation, messageID int64, at time.Time) {
	id, ts := messageID, at
	c.LastMessageID = &id
	c.LastMessageAt = &ts
	c.User1Hidden, c.User2Hidden = false, false
	c.User1DeletedAt, c.User2DeletedAt = nil, nil
	c.IsActive = true
}

func (s *ConversationStore) SetHidden(ctx context.Context, conversationID int64, side models.Side, hidden bool) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.conversations[conversationID]
	if !ok {
		return nil
	}
	if side == models.Side1 {
		c.User1Hidden = hidden
	} else {
		c.User2Hidden = hidden
	}
	return nil
}

func (s *ConversationStore) SetDeleted(ctx context.Context, conversationID int64, side models.Side, at time.Time) (*models.DMConversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	db := s.db()
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	ts := at
	if side == models.Side1 {
		c.User1DeletedAt = &ts
	} else {
		c.User2DeletedAt = &ts
	}
	if c.DeletedByBoth() {
		c.IsActive = false
	}
	out := *c
	return &out, nil
}

var (
	_ repository.UserRepository         = (*UserStore)(nil)
	_ repository.RoomRepository         = (*RoomStore)(nil)
	_ repository.MembershipRepository   = (*MembershipStore)(nil)
	_ repository.MessageRepository      = (*MessageStore)(nil)
	_ repository.FriendshipRepository   = (*FriendshipStore)(nil)
	_ repository.ConversationRepository = (*ConversationStore)(nil)
)
