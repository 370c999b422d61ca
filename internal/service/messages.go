package service

import (
	"context"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

// MessageService validates and stores room and direct messages and hands
// them to the Notifier for delivery.
//
// A direct message, its conversation row and the conversation's last-message
// pointer are written together, so a failed send leaves no half-updated
// conversation behind.
type MessageService struct {
	gw       repository.Gateway
	notifier Notifier
	logger   *zap.Logger
}

func NewMessageService(gw repository.Gateway, logger *zap.Logger) *MessageService {
	return &MessageService{gw: gw, notifier: NopNotifier{}, logger: logger.Named("messages")}
}

func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SendToRoom persists a room message from senderID. Content is validated
// before membership so an empty message never reaches the gateway.
func (s *MessageService) SendToRoom(ctx context.Context, senderID, roomID int64, in models.NewMessage) (*models.Message, error) {
	in.SenderID = senderID
	in.RoomID = &roomID
	in.RecipientID = nil
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ok, err := s.gw.Memberships.IsActiveMember(ctx, roomID, senderID)
	if err != nil {
		return nil, gatewayErr(s.logger, "is_member", err)
	}
	if !ok {
		return nil, apperr.AccessDenied("you are not a member of this room")
	}

	msg, err := s.gw.Messages.Create(ctx, in)
	if err != nil {
		return nil, gatewayErr(s.logger, "create_room_message", err)
	}
	return msg, nil
}

// SendDirect persists a direct message and bumps the pair's conversation,
// reviving it for both sides if either had hidden or deleted it.
func (s *MessageService) SendDirect(ctx context.Context, senderID, recipientID int64, in models.NewMessage) (*models.Message, *models.DMConversation, error) {
	in.SenderID = senderID
	in.RecipientID = &recipientID
	in.RoomID = nil
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	recipient, err := s.gw.Users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, nil, gatewayErr(s.logger, "get_recipient", err)
	}
	if recipient == nil {
		return nil, nil, apperr.NotFound("recipient not found")
	}

	msg, conv, err := s.gw.Messages.CreateDirect(ctx, in)
	if err != nil {
		return nil, nil, gatewayErr(s.logger, "create_direct_message", err)
	}
	return msg, conv, nil
}

// Delete soft-deletes a direct message. Room messages cannot be deleted.
// DeleteEveryone is reserved for the sender and tombstones the content;
// DeleteForMe is open to either participant and leaves content alone.
func (s *MessageService) Delete(ctx context.Context, userID, messageID int64, scope models.DeleteScope) error {
	if scope == models.DeleteNone {
		scope = models.DeleteForMe
	}
	if scope != models.DeleteForMe && scope != models.DeleteEveryone {
		return apperr.Validation("scope must be 'me' or 'everyone'")
	}

	msg, err := s.gw.Messages.GetByID(ctx, messageID)
	if err != nil {
		return gatewayErr(s.logger, "get_message", err)
	}
	if msg == nil {
		return apperr.NotFound("message not found")
	}
	if !msg.IsDirect() {
		return apperr.AccessDenied("room messages cannot be deleted")
	}
	if msg.SenderID != userID && *msg.RecipientID != userID {
		return apperr.NotFound("message not found")
	}
	if scope == models.DeleteEveryone && msg.SenderID != userID {
		return apperr.AccessDenied("only the sender can delete a message for everyone")
	}

	if err := s.gw.Messages.SoftDelete(ctx, messageID, scope == models.DeleteEveryone); err != nil {
		return gatewayErr(s.logger, "soft_delete_message", err)
	}
	s.notifier.MessageDeleted(ctx, msg, userID, scope)
	return nil
}
