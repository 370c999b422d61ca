// Package presence tracks which users hold at least one live connection.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one live connection (one tab, one device).
type Handle = uuid.UUID

// Transition reports whether a register/deregister crossed the
// online/offline edge. The caller persists and broadcasts on Transitioned.
type Transition struct {
	Transitioned bool
	ToOnline     bool
}

type session struct {
	joinedAt time.Time
}

// Registry maps user ID to that user's live connection handles.
//
// The "was empty" check and the insert/remove happen under one lock, so
// two racing registrations for an offline user yield exactly one
// online transition, and likewise for the last two deregistrations.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]map[Handle]session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]map[Handle]session),
		now:      time.Now,
	}
}

// Register adds handle to userID's session set. Registering a handle that
// is already present is a no-op.
func (r *Registry) Register(userID int64, h Handle) Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[Handle]session)
		r.sessions[userID] = set
	}
	if _, dup := set[h]; dup {
		return Transition{}
	}
	set[h] = session{joinedAt: r.now()}
	if len(set) == 1 {
		return Transition{Transitioned: true, ToOnline: true}
	}
	return Transition{}
}

// Deregister removes handle. When the set empties, the user's entry is
// dropped and an offline transition is reported. Unknown handles are
// ignored.
func (r *Registry) Deregister(userID int64, h Handle) Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return Transition{}
	}
	if _, present := set[h]; !present {
		return Transition{}
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return Transition{Transitioned: true, ToOnline: false}
	}
	return Transition{}
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// Handles returns a snapshot of userID's connection handles, oldest first.
func (r *Registry) Handles(userID int64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b Handle) int {
		return set[a].joinedAt.Compare(set[b].joinedAt)
	})
	return out
}

// OnlineUserIDs returns every user with at least one connection, ascending.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OnlineCount is len(OnlineUserIDs()) without the allocation.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
