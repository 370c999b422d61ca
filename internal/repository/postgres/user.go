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

const userColumns = `id, username, display_name, avatar_url, status, last_seen, password_hash, created_at`

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func scanUser(row pgx.Row, u *models.User) error {
	return row.Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.AvatarURL,
		&u.Status,
		&u.LastSeen,
		&u.PasswordHash,
		&u.CreatedAt,
	)
}

// Create inserts a new user row. Postgres generates the ID and timestamp.
func (s *UserStore) Create(ctx context.Context, username, displayName, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, display_name, password_hash, status, created_at)
		VALUES ($1, $2, $3, 'offline', now())
		RETURNING ` + userColumns

	var u models.User
	if err := scanUser(s.pool.QueryRow(ctx, query, username, displayName, passwordHash), &u); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u models.User
	err := scanUser(s.pool.QueryRow(ctx, query, userID), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetByUsername is case-insensitive; usernames are stored lowercased.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`

	var u models.User
	err := scanUser(s.pool.QueryRow(ctx, query, username), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

func (s *UserStore) ListByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *UserStore) UpdateStatus(ctx context.Context, userID int64, status models.UserStatus, at time.Time) error {
	query := `
		UPDATE users
		SET status = $2,
		    last_seen = CASE WHEN $2 = 'offline' THEN $3 ELSE last_seen END
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, userID, string(status), at); err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}
