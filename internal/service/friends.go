package service

import (
	"context"
	"strings"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

// FriendService runs the friend request state machine and blocking.
type FriendService struct {
	gw       repository.Gateway
	notifier Notifier
	logger   *zap.Logger
}

func NewFriendService(gw repository.Gateway, logger *zap.Logger) *FriendService {
	return &FriendService{gw: gw, notifier: NopNotifier{}, logger: logger.Named("friends")}
}

func (s *FriendService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SendRequest asks the user named username to be userID's friend. A
// previously rejected pair gets its row rewritten to pending.
func (s *FriendService) SendRequest(ctx context.Context, userID int64, username string) (*models.Friendship, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	target, err := s.gw.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_user_by_username", err)
	}
	if target == nil {
		return nil, apperr.NotFound("user not found")
	}
	if target.ID == userID {
		return nil, apperr.Validation("you cannot send a friend request to yourself")
	}

	existing, err := s.gw.Friendships.Between(ctx, userID, target.ID)
	if err != nil {
		return nil, gatewayErr(s.logger, "friendship_between", err)
	}
	if existing != nil {
		switch existing.Status {
		case models.FriendshipAccepted:
			return nil, apperr.Conflict("you are already friends")
		case models.FriendshipPending:
			return nil, apperr.Conflict("a friend request is already pending")
		case models.FriendshipBlocked:
			return nil, apperr.AccessDenied("you cannot send a friend request to this user")
		}
	}

	f, err := s.gw.Friendships.Upsert(ctx, userID, target.ID, models.FriendshipPending)
	if err != nil {
		return nil, gatewayErr(s.logger, "upsert_friendship", err)
	}
	s.logger.Debug("friend request sent",
		zap.Int64("from", userID),
		zap.Int64("to", target.ID),
		zap.Int64("friendship_id", f.ID),
	)
	s.notifier.FriendshipChanged(ctx, userID, target.ID)
	return f, nil
}

// pendingFor loads a pending row and checks that userID sits on the
// expected side of it.
func (s *FriendService) pendingFor(ctx context.Context, userID, friendshipID int64, asAddressee bool) (*models.Friendship, error) {
	f, err := s.gw.Friendships.GetByID(ctx, friendshipID)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_friendship", err)
	}
	if f == nil || !f.Involves(userID) {
		return nil, apperr.NotFound("friend request not found")
	}
	if asAddressee && f.AddresseeID != userID {
		return nil, apperr.AccessDenied("only the recipient can answer this request")
	}
	if !asAddressee && f.RequesterID != userID {
		return nil, apperr.AccessDenied("only the sender can cancel this request")
	}
	if f.Status != models.FriendshipPending {
		return nil, apperr.Conflict("this request is no longer pending")
	}
	return f, nil
}

func (s *FriendService) Accept(ctx context.Context, userID, friendshipID int64) (*models.Friendship, error) {
	return s.answer(ctx, userID, friendshipID, models.FriendshipAccepted)
}

func (s *FriendService) Reject(ctx context.Context, userID, friendshipID int64) (*models.Friendship, error) {
	return s.answer(ctx, userID, friendshipID, models.FriendshipRejected)
}

func (s *FriendService) answer(ctx context.Context, userID, friendshipID int64, status models.FriendshipStatus) (*models.Friendship, error) {
	f, err := s.pendingFor(ctx, userID, friendshipID, true)
	if err != nil {
		return nil, err
	}
	updated, err := s.gw.Friendships.Upsert(ctx, f.RequesterID, f.AddresseeID, status)
	if err != nil {
		return nil, gatewayErr(s.logger, "answer_friend_request", err)
	}
	s.notifier.FriendshipChanged(ctx, f.RequesterID, f.AddresseeID)
	return updated, nil
}

// Cancel withdraws a request userID sent.
func (s *FriendService) Cancel(ctx context.Context, userID, friendshipID int64) error {
	f, err := s.pendingFor(ctx, userID, friendshipID, false)
	if err != nil {
		return err
	}
	if err := s.gw.Friendships.Delete(ctx, f.ID); err != nil {
		return gatewayErr(s.logger, "cancel_friend_request", err)
	}
	s.notifier.FriendshipChanged(ctx, f.RequesterID, f.AddresseeID)
	return nil
}

// Remove ends an accepted friendship. The row is deleted, so both sides
// resolve to "none" afterwards.
func (s *FriendService) Remove(ctx context.Context, userID, otherID int64) error {
	f, err := s.gw.Friendships.Between(ctx, userID, otherID)
	if err != nil {
		return gatewayErr(s.logger, "friendship_between", err)
	}
	if f == nil || f.Status != models.FriendshipAccepted {
		return apperr.NotFound("you are not friends with this user")
	}
	if err := s.gw.Friendships.Delete(ctx, f.ID); err != nil {
		return gatewayErr(s.logger, "remove_friend", err)
	}
	s.notifier.FriendshipChanged(ctx, userID, otherID)
	return nil
}

// Block overwrites whatever row the pair has with a block owned by userID.
func (s *FriendService) Block(ctx context.Context, userID, otherID int64) (*models.Friendship, error) {
	if userID == otherID {
		return nil, apperr.Validation("you cannot block yourself")
	}
	other, err := s.gw.Users.GetByID(ctx, otherID)
	if err != nil {
		return nil, gatewayErr(s.logger, "get_user", err)
	}
	if other == nil {
		return nil, apperr.NotFound("user not found")
	}
	f, err := s.gw.Friendships.Upsert(ctx, userID, otherID, models.FriendshipBlocked)
	if err != nil {
		return nil, gatewayErr(s.logger, "block_user", err)
	}
	s.notifier.FriendshipChanged(ctx, userID, otherID)
	return f, nil
}
