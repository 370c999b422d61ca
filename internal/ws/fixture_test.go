package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/jeffrywalsh/webchat/internal/repository/memory"
	"github.com/jeffrywalsh/webchat/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSink records every frame it is handed. A positive capacity makes it
// refuse frames once that many are queued, like a stalled client.
type fakeSink struct {
	id       presence.Handle
	userID   int64
	capacity int

	mu     sync.Mutex
	frames []Envelope
	closed bool
}

func newFakeSink(userID int64) *fakeSink {
	return &fakeSink{id: uuid.New(), userID: userID}
}

func (f *fakeSink) ID() presence.Handle { return f.id }
func (f *fakeSink) UserID() int64       { return f.userID }

func (f *fakeSink) Deliver(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.capacity > 0 && len(f.frames) >= f.capacity {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	f.frames = append(f.frames, env)
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func (f *fakeSink) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, env := range f.frames {
		out = append(out, env.Event)
	}
	return out
}

// all returns the data of every frame with the given event, oldest first.
func (f *fakeSink) all(event string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, env := range f.frames {
		if env.Event == event {
			out = append(out, env.Data)
		}
	}
	return out
}

func (f *fakeSink) count(event string) int {
	return len(f.all(event))
}

// last decodes the newest frame with the given event into v.
func (f *fakeSink) last(t *testing.T, event string, v any) {
	t.Helper()
	frames := f.all(event)
	require.NotEmpty(t, frames, "no %s frame in %v", event, f.events())
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], v))
}

// statusChanges returns the user_status_changed frames about userID.
func (f *fakeSink) statusChanges(t *testing.T, userID int64) []models.UserStatus {
	t.Helper()
	var out []models.UserStatus
	for _, raw := range f.all(EventUserStatusChanged) {
		var p UserStatusPayload
		require.NoError(t, json.Unmarshal(raw, &p))
		if p.UserID == userID {
			out = append(out, p.Status)
		}
	}
	return out
}

type harness struct {
	ctx      context.Context
	db       *memory.DB
	gw       repository.Gateway
	registry *presence.Registry
	router   *Router
	hub      *Hub
	rooms    *service.RoomService
	friends  *service.FriendService
	convs    *service.ConversationService
	msgs     *service.MessageService
	main     *models.Room
}

// newHarness wires a hub over a fresh memory store. wrap, when given,
// decorates the gateway every component sees.
func newHarness(t *testing.T, wrap ...func(repository.Gateway) repository.Gateway) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observ.NewMetrics()

	db := memory.New()
	gw := db.Gateway()
	for _, w := range wrap {
		gw = w(gw)
	}
	registry := presence.NewRegistry()
	router := NewRouter(registry, metrics, logger)
	dir := directory.New(gw, registry, logger)

	msgs := service.NewMessageService(gw, logger)
	hub := NewHub(Deps{
		Gateway:   gw,
		Registry:  registry,
		Router:    router,
		Directory: dir,
		Messages:  msgs,
		Metrics:   metrics,
		Logger:    logger,
	})

	h := &harness{
		ctx:      ctx,
		db:       db,
		gw:       gw,
		registry: registry,
		router:   router,
		hub:      hub,
		rooms:    service.NewRoomService(gw, "main", logger),
		friends:  service.NewFriendService(gw, logger),
		convs:    service.NewConversationService(gw, logger),
		msgs:     msgs,
	}
	notifier := NewHubNotifier(hub)
	h.rooms.SetNotifier(notifier)
	h.friends.SetNotifier(notifier)
	h.convs.SetNotifier(notifier)
	h.msgs.SetNotifier(notifier)

	main, err := h.rooms.EnsureMainRoom(ctx)
	require.NoError(t, err)
	h.main = main
	return h
}

// user registers an account the way the HTTP layer does.
func (h *harness) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := h.gw.Users.Create(h.ctx, name, name, "x")
	require.NoError(t, err)
	require.NoError(t, h.rooms.JoinMain(h.ctx, u.ID))
	return u
}

func (h *harness) connect(t *testing.T, u *models.User) (*Session, *fakeSink) {
	t.Helper()
	sink := newFakeSink(u.ID)
	s, err := h.hub.Connect(h.ctx, &Identity{UserID: u.ID, Username: u.Username}, sink)
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())
	return s, sink
}

// send dispatches one client event through s.
func send(t *testing.T, s *Session, event string, payload any) {
	t.Helper()
	frame, err := Encode(event, payload)
	require.NoError(t, err)
	s.Handle(context.Background(), frame)
}
