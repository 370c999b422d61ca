package service

import (
	"context"
	"time"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

// ConversationService manages per-user visibility of direct
// conversations: hide, unhide and clearing history.
type ConversationService struct {
	gw       repository.Gateway
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewConversationService(gw repository.Gateway, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		gw:       gw,
		notifier: NopNotifier{},
		logger:   logger.Named("conversations"),
		now:      time.Now,
	}
}

func (s *ConversationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// DeleteResult describes what a delete did.
type DeleteResult struct {
	// FullyDeleted is true once both participants have deleted.
	FullyDeleted bool `json:"fully_deleted"`
	// MessageCount is how many messages were tombstoned.
	MessageCount int `json:"message_count"`
}

func (s *ConversationService) participant(ctx context.Context, userID, conversationID int64) (*models.DMConversation, models.Side, error) {
	conv, err := s.gw.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, 0, gatewayErr(s.logger, "get_conversation", err)
	}
	if conv == nil || !conv.IsActive {
		return nil, 0, apperr.NotFound("conversation not found")
	}
	side, ok := conv.SideOf(userID)
	if !ok {
		return nil, 0, apperr.AccessDenied("you are not part of this conversation")
	}
	return conv, side, nil
}

// SetHidden flips only userID's hidden flag.
func (s *ConversationService) SetHidden(ctx context.Context, userID, conversationID int64, hidden bool) error {
	conv, side, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := s.gw.Conversations.SetHidden(ctx, conv.ID, side, hidden); err != nil {
		return gatewayErr(s.logger, "set_hidden", err)
	}
	s.notifier.ConversationsChanged(ctx, userID)
	return nil
}

// Delete stamps userID's side. When the other side has already deleted,
// the conversation goes inactive and every message between the pair is
// tombstoned.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID int64) (DeleteResult, error) {
	conv, side, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return DeleteResult{}, err
	}

	after, err := s.gw.Conversations.SetDeleted(ctx, conv.ID, side, s.now())
	if err != nil {
		return DeleteResult{}, gatewayErr(s.logger, "set_deleted", err)
	}
	if after == nil {
		return DeleteResult{}, apperr.NotFound("conversation not found")
	}

	if after.IsActive {
		s.notifier.ConversationsChanged(ctx, userID)
		return DeleteResult{}, nil
	}

	n, err := s.gw.Messages.TombstoneDirect(ctx, after.User1ID, after.User2ID)
	if err != nil {
		return DeleteResult{}, gatewayErr(s.logger, "tombstone_direct", err)
	}
	s.logger.Info("conversation deleted by both sides",
		zap.Int64("conversation_id", after.ID),
		zap.Int("messages", n),
	)
	s.notifier.ConversationDeleted(ctx, after, userID, n)
	return DeleteResult{FullyDeleted: true, MessageCount: n}, nil
}
