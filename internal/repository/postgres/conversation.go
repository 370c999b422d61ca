package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/models"
)

const conversationColumns = `id, user1_id, user2_id, user1_hidden, user2_hidden,
	user1_deleted_at, user2_deleted_at, is_active, last_message_id, last_message_at, created_at`

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func scanConversation(row pgx.Row, c *models.DMConversation, extra ...any) error {
	dest := []any{
		&c.ID,
		&c.User1ID,
		&c.User2ID,
		&c.User1Hidden,
		&c.User2Hidden,
		&c.User1DeletedAt,
		&c.User2DeletedAt,
		&c.IsActive,
		&c.LastMessageID,
		&c.LastMessageAt,
		&c.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// FindOrCreate normalizes the pair so (a, b) and (b, a) hit the same row.
func (s *ConversationStore) FindOrCreate(ctx context.Context, a, b int64) (*models.DMConversation, error) {
	return findOrCreateConversation(ctx, s.pool, a, b)
}

func findOrCreateConversation(ctx context.Context, q dbtx, a, b int64) (*models.DMConversation, error) {
	u1, u2 := models.NormalizePair(a, b)

	query := `
		INSERT INTO dm_conversations (user1_id, user2_id, is_active, created_at)
		VALUES ($1, $2, true, now())
		ON CONFLICT (user1_id, user2_id) DO UPDATE
		SET is_active = true,
		    user1_deleted_at = CASE WHEN dm_conversations.is_active THEN dm_conversations.user1_deleted_at END,
		    user2_deleted_at = CASE WHEN dm_conversations.is_active THEN dm_conversations.user2_deleted_at END
		RETURNING ` + conversationColumns

	var c models.DMConversation
	if err := scanConversation(q.QueryRow(ctx, query, u1, u2), &c); err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	return &c, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID int64) (*models.DMConversation, error) {
	var c models.DMConversation
	err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM dm_conversations WHERE id = $1`, conversationID,
	), &c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *ConversationStore) ListFor(ctx context.Context, userID int64, visibleOnly bool) ([]models.ConversationRow, error) {
	query := `
		SELECT c.id, c.user1_id, c.user2_id, c.user1_hidden, c.user2_hidden,
		       c.user1_deleted_at, c.user2_deleted_at, c.is_active, c.last_message_id, c.last_message_at, c.created_at,
		       u.id, u.username, u.display_name, u.avatar_url, u.status, u.last_seen, u.password_hash, u.created_at,
		       COALESCE(m.content, '')
		FROM dm_conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE (c.user1_id = $1 OR c.user2_id = $1)`
	if visibleOnly {
		query += `
		  AND c.is_active
		  AND CASE WHEN c.user1_id = $1
		           THEN NOT c.user1_hidden AND c.user1_deleted_at IS NULL
		           ELSE NOT c.user2_hidden AND c.user2_deleted_at IS NULL
		      END`
	}
	query += `
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.ConversationRow, 0)
	for rows.Next() {
		var row models.ConversationRow
		o := &row.OtherUser
		if err := scanConversation(rows, &row.DMConversation,
			&o.ID, &o.Username, &o.DisplayName, &o.AvatarURL, &o.Status, &o.LastSeen, &o.PasswordHash, &o.CreatedAt,
			&row.LastMessage,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID, messageID int64, at time.Time) error {
	_, err := touchConversation(ctx, s.pool, conversationID, messageID, at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func touchConversation(ctx context.Context, q dbtx, conversationID, messageID int64, at time.Time) (*models.DMConversation, error) {
	query := `
		UPDATE dm_conversations
		SET last_message_id = $2, last_message_at = $3,
		    user1_hidden = false, user2_hidden = false,
		    user1_deleted_at = NULL, user2_deleted_at = NULL,
		    is_active = true
		WHERE id = $1
		RETURNING ` + conversationColumns

	var c models.DMConversation
	if err := scanConversation(q.QueryRow(ctx, query, conversationID, messageID, at), &c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update conversation last message: %w", err)
	}
	return &c, nil
}

func (s *ConversationStore) SetHidden(ctx context.Context, conversationID int64, side models.Side, hidden bool) error {
	column := "user1_hidden"
	if side == models.Side2 {
		column = "user2_hidden"
	}

	query := `UPDATE dm_conversations SET ` + column + ` = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, conversationID, hidden); err != nil {
		return fmt.Errorf("set conversation hidden: %w", err)
	}
	return nil
}

// SetDeleted stamps one side and deactivates the row when the other side
// is already stamped. One statement, so the two can't disagree.
func (s *ConversationStore) SetDeleted(ctx context.Context, conversationID int64, side models.Side, at time.Time) (*models.DMConversation, error) {
	mine, theirs := "user1_deleted_at", "user2_deleted_at"
	if side == models.Side2 {
		mine, theirs = theirs, mine
	}

	query := `
		UPDATE dm_conversations
		SET ` + mine + ` = $2,
		    is_active = is_active AND ` + theirs + ` IS NULL
		WHERE id = $1
		RETURNING ` + conversationColumns

	var c models.DMConversation
	if err := scanConversation(s.pool.QueryRow(ctx, query, conversationID, at), &c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set conversation deleted: %w", err)
	}
	return &c, nil
}
