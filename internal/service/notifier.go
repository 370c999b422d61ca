// Package service holds the mutating operations behind the HTTP producer
// endpoints and the websocket send path. Every operation writes through
// the gateway first and only then tells the Notifier.
package service

import (
	"context"

	"github.com/jeffrywalsh/webchat/internal/apperr"
	"github.com/jeffrywalsh/webchat/internal/models"
	"go.uber.org/zap"
)

// Notifier pushes the consequences of a persisted change to the users it
// affects. The websocket hub implements it.
type Notifier interface {
	// RoomJoined runs after userID gained an active membership in roomID.
	RoomJoined(ctx context.Context, userID, roomID int64)
	// RoomLeft runs after userID's membership in roomID was deactivated.
	RoomLeft(ctx context.Context, userID, roomID int64)
	// FriendshipChanged runs after any friend row touching userIDs changed.
	FriendshipChanged(ctx context.Context, userIDs ...int64)
	// ConversationsChanged asks each user to refresh their DM list.
	ConversationsChanged(ctx context.Context, userIDs ...int64)
	// ConversationDeleted runs once a conversation is deleted by both sides.
	ConversationDeleted(ctx context.Context, conv *models.DMConversation, deletedBy int64, messageCount int)
	// MessageDeleted runs after a direct message was soft-deleted.
	MessageDeleted(ctx context.Context, msg *models.Message, deletedBy int64, scope models.DeleteScope)
}

// NopNotifier drops every notification. Services start with it until the
// hub is wired in.
type NopNotifier struct{}

func (NopNotifier) RoomJoined(context.Context, int64, int64) {}
func (NopNotifier) RoomLeft(context.Context, int64, int64) {}
func (NopNotifier) FriendshipChanged(context.Context, ...int64) {}
func (NopNotifier) ConversationsChanged(context.Context, ...int64) {}
func (NopNotifier) ConversationDeleted(context.Context, *models.DMConversation, int64, int) {}
func (NopNotifier) MessageDeleted(context.Context, *models.Message, int64, models.DeleteScope) {}

// gatewayErr logs a failed gateway call and hides it behind a transient
// error. Errors that already carry a code pass through untouched.
func gatewayErr(logger *zap.Logger, op string, err error) error {
	if apperr.CodeOf(err) != apperr.CodeUnknown {
		return err
	}
	logger.Error("gateway call failed", zap.String("op", op), zap.Error(err))
	return apperr.Transient(err)
}
