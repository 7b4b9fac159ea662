package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomSnapshot is the durable view of a room, enough to rebuild its match
// state after a process restart. Board state is the move list, never a FEN.
type RoomSnapshot struct {
	Code      string            `json:"code"`
	Status    string            `json:"status"`
	Seats     map[string]string `json:"seats"` // handle -> "white" | "black"
	Ready     map[string]bool   `json:"ready"`
	Spectates []string          `json:"spectates,omitempty"`
	Moves     []string          `json:"moves"`
	BotSeat   bool              `json:"bot_seat"`
	BotRating int               `json:"bot_rating,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RoomStore keeps room snapshots in redis with a sliding TTL.
type RoomStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRoomStore(rdb *redis.Client, ttl time.Duration) *RoomStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RoomStore{rdb: rdb, ttl: ttl}
}

func (s *RoomStore) keyRoom(code string) string { return "room:" + strings.TrimSpace(code) }
func (s *RoomStore) keyIndex() string           { return "room:index" }

// Allocate reserves a room code. It returns false when the code is already
// taken, letting the caller retry with a fresh one.
func (s *RoomStore) Allocate(ctx context.Context, code string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keyRoom(code), "{}", s.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		if err := s.rdb.SAdd(ctx, s.keyIndex(), code).Err(); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// Save writes the snapshot and refreshes the TTL.
func (s *RoomStore) Save(ctx context.Context, snap *RoomSnapshot) error {
	snap.UpdatedAt = time.Now()
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyRoom(snap.Code), raw, s.ttl).Err(); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.keyIndex(), snap.Code).Err()
}

// Load returns nil without error when the room does not exist.
func (s *RoomStore) Load(ctx context.Context, code string) (*RoomSnapshot, error) {
	raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap RoomSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap.Code == "" {
		// placeholder row written by Allocate, not a usable snapshot
		return nil, nil
	}
	return &snap, nil
}

// Delete removes the snapshot and its index entry.
func (s *RoomStore) Delete(ctx context.Context, code string) error {
	if err := s.rdb.Del(ctx, s.keyRoom(code)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyIndex(), code).Err()
}

// CountActive reports how many room codes the index currently holds,
// pruning entries whose snapshot has expired.
func (s *RoomStore) CountActive(ctx context.Context) (int64, error) {
	codes, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, c := range codes {
		exists, err := s.rdb.Exists(ctx, s.keyRoom(c)).Result()
		if err != nil {
			return 0, err
		}
		if exists == 0 {
			_ = s.rdb.SRem(ctx, s.keyIndex(), c).Err()
			continue
		}
		n++
	}
	return n, nil
}
