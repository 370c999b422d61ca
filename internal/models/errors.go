package models

import "github.com/jeffrywalsh/webchat/internal/apperr"

var (
	ErrMessageTarget  = apperr.Validation("message must target exactly one of a room or a recipient")
	ErrMessageType    = apperr.Validation("unsupported message type")
	ErrContentEmpty   = apperr.Validation("message cannot be empty")
	ErrContentTooLong = apperr.Validation("message is too long (max 2000 characters)")
)
