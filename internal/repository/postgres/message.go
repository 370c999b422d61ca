package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/models"
)

// messageSelect joins the sender so pushes carry a display name without a
// second lookup.
const messageSelect = `
	SELECT m.id, m.sender_id, u.username, u.display_name, m.room_id, m.recipient_id,
	       m.message_type, m.content, m.media, m.is_deleted, m.delete_scope, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func scanMessage(row pgx.Row, msg *models.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.SenderUsername,
		&msg.SenderDisplayName,
		&msg.RoomID,
		&msg.RecipientID,
		&msg.Type,
		&msg.Content,
		&msg.Media,
		&msg.IsDeleted,
		&msg.DeleteScope,
		&msg.CreatedAt,
	)
}

func (s *MessageStore) Create(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return insertMessage(ctx, s.pool, in)
}

// CreateDirect runs find-or-create of the conversation, the insert and the
// last-message update in one transaction.
func (s *MessageStore) CreateDirect(ctx context.Context, in models.NewMessage) (*models.Message, *models.DMConversation, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if in.RecipientID == nil {
		return nil, nil, models.ErrMessageTarget
	}

	var (
		msg  *models.Message
		conv *models.DMConversation
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := findOrCreateConversation(ctx, tx, in.SenderID, *in.RecipientID)
		if err != nil {
			return err
		}
		m, err := insertMessage(ctx, tx, in)
		if err != nil {
			return err
		}
		c, err = touchConversation(ctx, tx, c.ID, m.ID, m.CreatedAt)
		if err != nil {
			return err
		}
		msg, conv = m, c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func insertMessage(ctx context.Context, q dbtx, in models.NewMessage) (*models.Message, error) {
	query := `
		WITH inserted AS (
			INSERT INTO messages (sender_id, room_id, recipient_id, message_type, content, media, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING *
		)
		SELECT m.id, m.sender_id, u.username, u.display_name, m.room_id, m.recipient_id,
		       m.message_type, m.content, m.media, m.is_deleted, m.delete_scope, m.created_at
		FROM inserted m
		JOIN users u ON u.id = m.sender_id`

	var msg models.Message
	err := scanMessage(q.QueryRow(ctx, query,
		in.SenderID, in.RoomID, in.RecipientID, string(in.Type), in.Content, in.Media,
	), &msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	var msg models.Message
	err := scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, messageID), &msg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// ListByRoom pages from the newest message backwards and returns the page
// oldest-first, ready to render.
func (s *MessageStore) ListByRoom(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error) {
	query := messageSelect + `
		WHERE m.room_id = $1 AND m.delete_scope <> 'me'
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3`

	return s.list(ctx, query, roomID, limit, offset)
}

func (s *MessageStore) ListDirect(ctx context.Context, a, b int64, limit, offset int) ([]models.Message, error) {
	query := messageSelect + `
		WHERE ((m.sender_id = $1 AND m.recipient_id = $2) OR (m.sender_id = $2 AND m.recipient_id = $1))
		  AND m.delete_scope <> 'me'
		ORDER BY m.id DESC
		LIMIT $3 OFFSET $4`

	return s.list(ctx, query, a, b, limit, offset)
}

func (s *MessageStore) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID int64, tombstone bool) error {
	var query string
	var args []any
	if tombstone {
		query = `
			UPDATE messages
			SET is_deleted = true, delete_scope = 'everyone', content = $2,
			    media = NULL, message_type = 'text'
			WHERE id = $1`
		args = []any{messageID, models.Tombstone}
	} else {
		// A message already deleted for everyone stays tombstoned.
		query = `
			UPDATE messages
			SET is_deleted = true,
			    delete_scope = CASE WHEN delete_scope = 'everyone' THEN 'everyone' ELSE 'me' END
			WHERE id = $1`
		args = []any{messageID}
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

func (s *MessageStore) TombstoneDirect(ctx context.Context, a, b int64) (int, error) {
	query := `
		UPDATE messages
		SET is_deleted = true, delete_scope = 'everyone', content = $3,
		    media = NULL, message_type = 'text'
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		  AND delete_scope <> 'everyone'`

	tag, err := s.pool.Exec(ctx, query, a, b, models.Tombstone)
	if err != nil {
		return 0, fmt.Errorf("tombstone conversation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
