package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/models"
)

const friendshipColumns = `id, requester_id, addressee_id, status, created_at, updated_at`

type FriendshipStore struct {
	pool *pgxpool.Pool
}

func NewFriendshipStore(pool *pgxpool.Pool) *FriendshipStore {
	return &FriendshipStore{pool: pool}
}

func scanFriendship(row pgx.Row, f *models.Friendship) error {
	return row.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
}

func (s *FriendshipStore) Between(ctx context.Context, a, b int64) (*models.Friendship, error) {
	query := `
		SELECT ` + friendshipColumns + `
		FROM friendships
		WHERE LEAST(requester_id, addressee_id) = LEAST($1::bigint, $2::bigint)
		  AND GREATEST(requester_id, addressee_id) = GREATEST($1::bigint, $2::bigint)`

	var f models.Friendship
	if err := scanFriendship(s.pool.QueryRow(ctx, query, a, b), &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get friendship: %w", err)
	}
	return &f, nil
}

func (s *FriendshipStore) GetByID(ctx context.Context, friendshipID int64) (*models.Friendship, error) {
	var f models.Friendship
	err := scanFriendship(s.pool.QueryRow(ctx,
		`SELECT `+friendshipColumns+` FROM friendships WHERE id = $1`, friendshipID,
	), &f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get friendship by id: %w", err)
	}
	return &f, nil
}

// Upsert relies on the unordered-pair unique index, so a rejected row is
// rewritten in place instead of gaining a sibling.
func (s *FriendshipStore) Upsert(ctx context.Context, requesterID, addresseeID int64, status models.FriendshipStatus) (*models.Friendship, error) {
	query := `
		INSERT INTO friendships (requester_id, addressee_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (LEAST(requester_id, addressee_id), GREATEST(requester_id, addressee_id))
		DO UPDATE SET requester_id = EXCLUDED.requester_id,
		              addressee_id = EXCLUDED.addressee_id,
		              status = EXCLUDED.status,
		              updated_at = now()
		RETURNING ` + friendshipColumns

	var f models.Friendship
	if err := scanFriendship(s.pool.QueryRow(ctx, query, requesterID, addresseeID, string(status)), &f); err != nil {
		return nil, fmt.Errorf("upsert friendship: %w", err)
	}
	return &f, nil
}

func (s *FriendshipStore) Delete(ctx context.Context, friendshipID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM friendships WHERE id = $1`, friendshipID); err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	return nil
}

func (s *FriendshipStore) AcceptedFriendsOf(ctx context.Context, userID int64) ([]models.FriendRow, error) {
	query := `
		SELECT f.id, f.updated_at,
		       u.id, u.username, u.display_name, u.avatar_url, u.status, u.last_seen, u.password_hash, u.created_at
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
		WHERE (f.requester_id = $1 OR f.addressee_id = $1) AND f.status = 'accepted'`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	friends := make([]models.FriendRow, 0)
	for rows.Next() {
		var fr models.FriendRow
		if err := rows.Scan(
			&fr.FriendshipID,
			&fr.Since,
			&fr.User.ID,
			&fr.User.Username,
			&fr.User.DisplayName,
			&fr.User.AvatarURL,
			&fr.User.Status,
			&fr.User.LastSeen,
			&fr.User.PasswordHash,
			&fr.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

func (s *FriendshipStore) PendingRequestsTo(ctx context.Context, userID int64) ([]models.PendingRequest, error) {
	query := `
		SELECT f.id, f.created_at,
		       u.id, u.username, u.display_name, u.avatar_url, u.status, u.last_seen, u.password_hash, u.created_at
		FROM friendships f
		JOIN users u ON u.id = f.requester_id
		WHERE f.addressee_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.PendingRequest, 0)
	for rows.Next() {
		var pr models.PendingRequest
		if err := rows.Scan(
			&pr.FriendshipID,
			&pr.CreatedAt,
			&pr.From.ID,
			&pr.From.Username,
			&pr.From.DisplayName,
			&pr.From.AvatarURL,
			&pr.From.Status,
			&pr.From.LastSeen,
			&pr.From.PasswordHash,
			&pr.From.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		requests = append(requests, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	return requests, nil
}

func (s *FriendshipStore) CountPendingTo(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM friendships WHERE addressee_id = $1 AND status = 'pending'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}
