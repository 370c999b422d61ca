package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/repository"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) ActiveForUser(ctx context.Context, userID int64) ([]models.RoomWithRole, error) {
	query := `
		SELECT r.id, r.name, r.display_name, r.is_private, r.is_active, r.created_by, r.created_at, m.role
		FROM room_members m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.user_id = $1 AND m.is_active AND r.is_active`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.RoomWithRole, 0)
	for rows.Next() {
		var r models.RoomWithRole
		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.DisplayName,
			&r.IsPrivate,
			&r.IsActive,
			&r.CreatedBy,
			&r.CreatedAt,
			&r.Role,
		); err != nil {
			return nil, fmt.Errorf("scan user room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rooms: %w", err)
	}
	return rooms, nil
}

func (s *MembershipStore) Get(ctx context.Context, roomID, userID int64) (*models.RoomMembership, error) {
	query := `
		SELECT room_id, user_id, role, is_active, joined_at
		FROM room_members
		WHERE room_id = $1 AND user_id = $2`

	var m models.RoomMembership
	err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

func (s *MembershipStore) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_members
			WHERE room_id = $1 AND user_id = $2 AND is_active
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// Add upserts on the (room_id, user_id) primary key. Rejoining keeps the
// original role and reactivates the row. The room row is share-locked
// first, so Add and Leave on the same room never interleave.
func (s *MembershipStore) Add(ctx context.Context, roomID, userID int64, role models.RoomRole) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockActiveRoom(ctx, tx, roomID, "FOR SHARE"); err != nil {
			return err
		}
		return upsertMember(ctx, tx, roomID, userID, role)
	})
}

// lockActiveRoom takes a row lock on the room and fails with
// ErrRoomInactive if it is missing or deactivated.
func lockActiveRoom(ctx context.Context, tx pgx.Tx, roomID int64, mode string) error {
	var active bool
	err := tx.QueryRow(ctx, `SELECT is_active FROM rooms WHERE id = $1 `+mode, roomID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !active) {
		return repository.ErrRoomInactive
	}
	if err != nil {
		return fmt.Errorf("lock room: %w", err)
	}
	return nil
}

func upsertMember(ctx context.Context, q dbtx, roomID, userID int64, role models.RoomRole) error {
	query := `
		INSERT INTO room_members (room_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, true, now())
		ON CONFLICT (room_id, user_id)
		DO UPDATE SET is_active = true, joined_at = now()`

	if _, err := q.Exec(ctx, query, roomID, userID, string(role)); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *MembershipStore) Deactivate(ctx context.Context, roomID, userID int64) (bool, error) {
	return deactivateMember(ctx, s.pool, roomID, userID)
}

func deactivateMember(ctx context.Context, q dbtx, roomID, userID int64) (bool, error) {
	query := `
		UPDATE room_members
		SET is_active = false
		WHERE room_id = $1 AND user_id = $2 AND is_active`

	tag, err := q.Exec(ctx, query, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("deactivate member: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Leave holds the room row FOR UPDATE while it deactivates the membership,
// counts what is left and closes the room, blocking concurrent Adds until
// it commits.
func (s *MembershipStore) Leave(ctx context.Context, roomID, userID int64, closeIfEmpty bool) (repository.LeaveResult, error) {
	var res repository.LeaveResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		left, err := deactivateMember(ctx, tx, roomID, userID)
		if err != nil || !left {
			return err
		}
		res.Left = true
		if !closeIfEmpty {
			return nil
		}

		n, err := countActive(ctx, tx, roomID)
		if err != nil || n > 0 {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE rooms SET is_active = false WHERE id = $1 AND is_active`, roomID)
		if err != nil {
			return fmt.Errorf("close room: %w", err)
		}
		res.RoomClosed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return repository.LeaveResult{}, err
	}
	return res, nil
}

func (s *MembershipStore) CountActive(ctx context.Context, roomID int64) (int, error) {
	return countActive(ctx, s.pool, roomID)
}

func countActive(ctx context.Context, q dbtx, roomID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*) FROM room_members WHERE room_id = $1 AND is_active`, roomID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (s *MembershipStore) ActiveMembers(ctx context.Context, roomID int64) ([]models.RoomUser, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.avatar_url, u.status, u.last_seen, u.password_hash, u.created_at, m.role
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1 AND m.is_active`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]models.RoomUser, 0)
	for rows.Next() {
		var m models.RoomUser
		if err := rows.Scan(
			&m.ID,
			&m.Username,
			&m.DisplayName,
			&m.AvatarURL,
			&m.Status,
			&m.LastSeen,
			&m.PasswordHash,
			&m.CreatedAt,
			&m.Role,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}
