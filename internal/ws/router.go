package ws

import (
	"sync"

	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"go.uber.org/zap"
)

// Sink is one live connection as the router sees it.
type Sink interface {
	ID() presence.Handle
	UserID() int64
	// Deliver queues frame without blocking. False means the connection is
	// gone or its queue is full.
	Deliver(frame []byte) bool
	// Close tears the connection down. It must be safe to call repeatedly.
	Close()
}

// Router resolves a room, a user, or everyone to live connections.
//
// Room groups hold connections, not users: a member whose connection has
// not joined the room's group receives nothing for that room.
type Router struct {
	mu     sync.RWMutex
	sinks  map[presence.Handle]Sink
	groups map[int64]map[presence.Handle]struct{}
	joined map[presence.Handle]map[int64]struct{}

	presence *presence.Registry
	metrics  *observ.Metrics
	logger   *zap.Logger
}

func NewRouter(registry *presence.Registry, metrics *observ.Metrics, logger *zap.Logger) *Router {
	return &Router{
		sinks:    make(map[presence.Handle]Sink),
		groups:   make(map[int64]map[presence.Handle]struct{}),
		joined:   make(map[presence.Handle]map[int64]struct{}),
		presence: registry,
		metrics:  metrics,
		logger:   logger.Named("router"),
	}
}

// Attach makes s addressable.
func (r *Router) Attach(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[s.ID()] = s
}

// Detach removes h from the router and from every room group it joined.
func (r *Router) Detach(h presence.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[h] {
		r.removeFromGroup(roomID, h)
	}
	delete(r.joined, h)
	delete(r.sinks, h)
}

func (r *Router) removeFromGroup(roomID int64, h presence.Handle) {
	g := r.groups[roomID]
	delete(g, h)
	if len(g) == 0 {
		delete(r.groups, roomID)
	}
}

// JoinGroup adds an attached connection to roomID's group.
func (r *Router) JoinGroup(roomID int64, h presence.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sinks[h]; !ok {
		return false
	}
	g, ok := r.groups[roomID]
	if !ok {
		g = make(map[presence.Handle]struct{})
		r.groups[roomID] = g
	}
	g[h] = struct{}{}

	rooms, ok := r.joined[h]
	if !ok {
		rooms = make(map[int64]struct{})
		r.joined[h] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// LeaveGroup reports whether h was in the group.
func (r *Router) LeaveGroup(roomID int64, h presence.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[roomID][h]; !ok {
		return false
	}
	r.removeFromGroup(roomID, h)
	delete(r.joined[h], roomID)
	return true
}

func (r *Router) InGroup(roomID int64, h presence.Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[roomID][h]
	return ok
}

// JoinUser joins every live connection of userID to roomID's group.
func (r *Router) JoinUser(roomID, userID int64) {
	for _, h := range r.presence.Handles(userID) {
		r.JoinGroup(roomID, h)
	}
}

// LeaveUser removes every live connection of userID from roomID's group.
func (r *Router) LeaveUser(roomID, userID int64) {
	for _, h := range r.presence.Handles(userID) {
		r.LeaveGroup(roomID, h)
	}
}

// GroupSize is the number of connections in roomID's group.
func (r *Router) GroupSize(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[roomID])
}

// ToConn pushes to a single connection.
func (r *Router) ToConn(h presence.Handle, event string, payload any) int {
	r.mu.RLock()
	s, ok := r.sinks[h]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.fanout("conn", event, payload, []Sink{s})
}

// ToRoom pushes to every connection in roomID's group.
func (r *Router) ToRoom(roomID int64, event string, payload any) int {
	return r.ToRoomExcept(roomID, 0, event, payload)
}

// ToRoomExcept is ToRoom skipping every connection owned by exceptUserID.
func (r *Router) ToRoomExcept(roomID, exceptUserID int64, event string, payload any) int {
	r.mu.RLock()
	targets := make([]Sink, 0, len(r.groups[roomID]))
	for h := range r.groups[roomID] {
		s := r.sinks[h]
		if s == nil || (exceptUserID != 0 && s.UserID() == exceptUserID) {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	return r.fanout("room", event, payload, targets)
}

// ToUser pushes to every device of userID. An offline user is not an
// error: the change is persisted and will show up on their next resync.
func (r *Router) ToUser(userID int64, event string, payload any) int {
	handles := r.presence.Handles(userID)
	if len(handles) == 0 {
		r.logger.Debug("push to offline user dropped",
			zap.Int64("user_id", userID),
			zap.String("event", event),
		)
		return 0
	}

	r.mu.RLock()
	targets := make([]Sink, 0, len(handles))
	for _, h := range handles {
		if s, ok := r.sinks[h]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	return r.fanout("user", event, payload, targets)
}

// ToAll pushes to every live connection. Only presence and refresh hints
// go through here, never message content.
func (r *Router) ToAll(event string, payload any) int {
	r.mu.RLock()
	targets := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	return r.fanout("all", event, payload, targets)
}

func (r *Router) fanout(scope, event string, payload any, targets []Sink) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("encode push failed", zap.String("event", event), zap.Error(err))
		return 0
	}
	r.metrics.Broadcasts.WithLabelValues(scope).Inc()

	delivered := 0
	for _, s := range targets {
		if s.Deliver(frame) {
			delivered++
			continue
		}
		r.logger.Warn("slow consumer disconnected",
			zap.Int64("user_id", s.UserID()),
			zap.String("conn_id", s.ID().String()),
			zap.String("event", event),
		)
		s.Close()
	}
	return delivered
}
