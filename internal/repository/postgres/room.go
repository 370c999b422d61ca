package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeffrywalsh/webchat/internal/models"
)

const roomColumns = `id, name, display_name, is_private, is_active, created_by, created_at`

type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func scanRoom(row pgx.Row, r *models.Room) error {
	return row.Scan(
		&r.ID,
		&r.Name,
		&r.DisplayName,
		&r.IsPrivate,
		&r.IsActive,
		&r.CreatedBy,
		&r.CreatedAt,
	)
}

func (s *RoomStore) Create(ctx context.Context, name, displayName string, isPrivate bool, createdBy *int64) (*models.Room, error) {
	return insertRoom(ctx, s.pool, name, displayName, isPrivate, createdBy)
}

// CreateWithOwner inserts the room and the owner row in one transaction.
// A failed membership insert rolls the room back, so its name stays free.
func (s *RoomStore) CreateWithOwner(ctx context.Context, name, displayName string, isPrivate bool, ownerID int64) (*models.Room, error) {
	var room *models.Room
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := insertRoom(ctx, tx, name, displayName, isPrivate, &ownerID)
		if err != nil {
			return err
		}
		if err := upsertMember(ctx, tx, r.ID, ownerID, models.RoleOwner); err != nil {
			return err
		}
		room = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func insertRoom(ctx context.Context, q dbtx, name, displayName string, isPrivate bool, createdBy *int64) (*models.Room, error) {
	query := `
		INSERT INTO rooms (name, display_name, is_private, is_active, created_by, created_at)
		VALUES ($1, $2, $3, true, $4, now())
		RETURNING ` + roomColumns

	var r models.Room
	if err := scanRoom(q.QueryRow(ctx, query, name, displayName, isPrivate, createdBy), &r); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return &r, nil
}

func (s *RoomStore) GetByID(ctx context.Context, roomID int64) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	var r models.Room
	if err := scanRoom(s.pool.QueryRow(ctx, query, roomID), &r); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

func (s *RoomStore) GetByName(ctx context.Context, name string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE name = $1`

	var r models.Room
	if err := scanRoom(s.pool.QueryRow(ctx, query, name), &r); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room by name: %w", err)
	}
	return &r, nil
}

func (s *RoomStore) ListPublic(ctx context.Context) ([]models.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE is_active AND NOT is_private
		ORDER BY lower(display_name)`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.Room, 0)
	for rows.Next() {
		var r models.Room
		if err := scanRoom(rows, &r); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

func (s *RoomStore) SetActive(ctx context.Context, roomID int64, active bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE rooms SET is_active = $2 WHERE id = $1`, roomID, active); err != nil {
		return fmt.Errorf("set room active: %w", err)
	}
	return nil
}
