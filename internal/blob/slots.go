package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"huddle/api/internal/util"
)

// ErrSlotNotFound is returned for unknown, expired or already used slots.
var ErrSlotNotFound = errors.New("upload slot not found or expired")

// Slot is a reservation for a single upload by one member.
type Slot struct {
	Token       string    `json:"token"`
	WorkspaceID string    `json:"workspaceId"`
	MemberID    string    `json:"memberId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SlotStore issues single-use upload tokens kept in Redis.
type SlotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSlotStore(client *redis.Client, ttl time.Duration) *SlotStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SlotStore{client: client, prefix: "huddle:upload:", ttl: ttl}
}

func (s *SlotStore) Issue(ctx context.Context, workspaceID, memberID string) (Slot, error) {
	slot := Slot{
		Token:       util.NewID("upl"),
		WorkspaceID: workspaceID,
		MemberID:    memberID,
		ExpiresAt:   time.Now().Add(s.ttl),
	}
	payload, err := json.Marshal(slot)
	if err != nil {
		return Slot{}, fmt.Errorf("marshal slot: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+slot.Token, payload, s.ttl).Err(); err != nil {
		return Slot{}, fmt.Errorf("save slot: %w", err)
	}
	return slot, nil
}

// Claim consumes a slot. A second claim of the same token fails.
func (s *SlotStore) Claim(ctx context.Context, token string) (Slot, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return Slot{}, ErrSlotNotFound
	}
	if err != nil {
		return Slot{}, fmt.Errorf("claim slot: %w", err)
	}
	var slot Slot
	if err := json.Unmarshal([]byte(payload), &slot); err != nil {
		return Slot{}, fmt.Errorf("unmarshal slot: %w", err)
	}
	return slot, nil
}
