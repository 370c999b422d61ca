package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

var roomNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

const maxDisplayNameLength = 100

// RoomService owns room creation and membership changes.
//
// Every write lands in the gateway first and is announced through the
// Notifier after it commits. The main room is special: everyone joins it at
// registration, and it is never deactivated when its last member leaves.
// Any other room closes once it is empty.
type RoomService struct {
	gw       repository.Gateway
	notifier Notifier
	mainRoom string
	logger   *zap.Logger
}

func NewRoomService(gw repository.Gateway, mainRoom string, logger *zap.Logger) *RoomService {
	return &RoomService{
		gw:       gw,
		notifier: NopNotifier{},
		mainRoom: mainRoom,
		logger:   logger.Named("rooms"),
	}
}

func (s *RoomService) SetNotifier(n Notifier) {
	s.notifier = n
}

// MainRoom is the name of the room that is never deactivated.
func (s *RoomService) MainRoom() string {
	return s.mainRoom
}

// EnsureMainRoom creates the main room if it does not exist and
// reactivates it if something turned it off.
func (s *RoomService) EnsureMainRoom(ctx context.Context) (*models.Room, error) {
	room, err := s.gw.Rooms.GetByName(ctx, s.mainRoom)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_main_room", err)
	}
	if room == nil {
		room, err = s.gw.Rooms.Create(ctx, s.mainRoom, "Main", false, nil)
		if err != nil {
			return nil, gatewayErr(s.logger, "create_main_room", err)
		}
		s.logger.Info("main room created", zap.Int64("room_id", room.ID), zap.String("name", room.Name))
		return room, nil
	}
	if !room.IsActive {
		if err := s.gw.Rooms.SetActive(ctx, room.ID, true); err != nil {
			return nil, gatewayErr(s.logger, "activate_main_room", err)
		}
		room.IsActive = true
	}
	return room, nil
}

// JoinMain gives a new account its main room membership.
func (s *RoomService) JoinMain(ctx context.Context, userID int64) error {
	room, err := s.EnsureMainRoom(ctx)
	if err != nil {
		return err
	}
	if err := s.gw.Memberships.Add(ctx, room.ID, userID, models.RoleMember); err != nil {
		return gatewayErr(s.logger, "join_main_room", err)
	}
	s.notifier.RoomJoined(ctx, userID, room.ID)
	return nil
}

// Create makes a room owned by userID.
func (s *RoomService) Create(ctx context.Context, userID int64, name, displayName string, isPrivate bool) (*models.Room, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !roomNamePattern.MatchString(name) {
		return nil, apperr.Validation("room name must be 2-64 characters of a-z, 0-9, '-' or '_'")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = name
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return nil, apperr.Validation("display name is too long")
	}

	existing, err := s.gw.Rooms.GetByName(ctx, name)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_room_by_name", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("a room with that name already exists")
	}

	room, err := s.gw.Rooms.CreateWithOwner(ctx, name, displayName, isPrivate, userID)
	if err != nil {
		return nil, gatewayErr(s.logger, "create_room", err)
	}

	s.logger.Info("room created",
		zap.Int64("room_id", room.ID),
		zap.String("name", room.Name),
		zap.Int64("owner_id", userID),
	)
	s.notifier.RoomJoined(ctx, userID, room.ID)
	return room, nil
}

// Join adds userID to roomID, reactivating an old membership if one
// exists. Private rooms only accept users who were members before.
func (s *RoomService) Join(ctx context.Context, userID, roomID int64) (*models.Room, error) {
	room, err := s.gw.Rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_room", err)
	}
	if room == nil || !room.IsActive {
		return nil, apperr.NotFound("room not found")
	}

	m, err := s.gw.Memberships.Get(ctx, roomID, userID)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_membership", err)
	}
	if m != nil && m.IsActive {
		return nil, apperr.Conflict("you are already a member of this room")
	}
	if room.IsPrivate && m == nil {
		return nil, apperr.AccessDenied("this room is private")
	}

	if err := s.gw.Memberships.Add(ctx, roomID, userID, models.RoleMember); err != nil {
		// The last member left between the read above and the write.
		if errors.Is(err, repository.ErrRoomInactive) {
			return nil, apperr.NotFound("room not found")
		}
		return nil, gatewayErr(s.logger, "add_membership", err)
	}
	s.notifier.RoomJoined(ctx, userID, roomID)
	return room, nil
}

// Leave deactivates userID's membership. Leaving a room you are not in is
// a no-op and reports false. The last member out of a room other than the
// main room deactivates it.
func (s *RoomService) Leave(ctx context.Context, userID, roomID int64) (bool, error) {
	room, err := s.gw.Rooms.GetByID(ctx, roomID)
	if err != nil {
		return false, gatewayErr(s.logger, "get_room", err)
	}
	if room == nil {
		return false, nil
	}

	res, err := s.gw.Memberships.Leave(ctx, roomID, userID, room.Name != s.mainRoom)
	if err != nil {
		return false, gatewayErr(s.logger, "leave_room", err)
	}
	if !res.Left {
		return false, nil
	}
	if res.RoomClosed {
		s.logger.Info("empty room deactivated", zap.Int64("room_id", roomID))
	}

	s.notifier.RoomLeft(ctx, userID, roomID)
	return true, nil
}

func (s *RoomService) ListPublic(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.gw.Rooms.ListPublic(ctx)
	if err != nil {
		return nil, gatewayErr(s.logger, "list_public_rooms", err)
	}
	return rooms, nil
}
