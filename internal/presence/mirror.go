package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror receives every online/offline edge after the registry has
// decided it. It is a read-side copy for operators and tooling; nothing
// in this process reads it back.
type Mirror interface {
	MarkOnline(ctx context.Context, userID int64, at time.Time) error
	MarkOffline(ctx context.Context, userID int64, at time.Time) error
}

// NopMirror discards every edge.
type NopMirror struct{}

func (NopMirror) MarkOnline(context.Context, int64, time.Time) error  { return nil }
func (NopMirror) MarkOffline(context.Context, int64, time.Time) error { return nil }

const (
	onlineSetKey   = "webchat:presence:online"
	lastSeenKey    = "webchat:presence:last_seen"
	mirrorDeadline = 2 * time.Second
)

// RedisMirror keeps a set of online user IDs and a hash of last-seen unix
// timestamps.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror parses a redis:// URL and pings the server.
func NewRedisMirror(ctx context.Context, redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

// Reset clears the online set. Called at boot: a fresh process has no
// live connections, whatever the previous one left behind.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, onlineSetKey).Err(); err != nil {
		return fmt.Errorf("reset presence mirror: %w", err)
	}
	return nil
}

func (m *RedisMirror) MarkOnline(ctx context.Context, userID int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mirrorDeadline)
	defer cancel()

	id := strconv.FormatInt(userID, 10)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, onlineSetKey, id)
		p.HSet(ctx, lastSeenKey, id, at.Unix())
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror online: %w", err)
	}
	return nil
}

func (m *RedisMirror) MarkOffline(ctx context.Context, userID int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mirrorDeadline)
	defer cancel()

	id := strconv.FormatInt(userID, 10)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, onlineSetKey, id)
		p.HSet(ctx, lastSeenKey, id, at.Unix())
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror offline: %w", err)
	}
	return nil
}

// OnlineUserIDs reads the mirrored set. At boot, before Reset, it is what
// the previous process left behind.
func (m *RedisMirror) OnlineUserIDs(ctx context.Context) ([]int64, error) {
	members, err := m.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence mirror: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, s := range members {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
