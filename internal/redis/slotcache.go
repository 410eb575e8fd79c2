package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-booking/internal/schedule"
)

// SlotCache keeps the computed free slots of a specialist day for a short
// time. Entries are advisory: bookings always re-check inside a transaction.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewSlotCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *SlotCache {
	return &SlotCache{client: client, ttl: ttl, log: log}
}

type cachedSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func slotKey(specialistID uuid.UUID, day string) string {
	return fmt.Sprintf("slots:%s:%s", specialistID.String(), day)
}

func (c *SlotCache) Get(ctx context.Context, specialistID uuid.UUID, day string) ([]schedule.Slot, bool) {
	raw, err := c.client.Get(ctx, slotKey(specialistID, day)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("specialist_id", specialistID.String()).Msg("slot cache read failed")
		}
		return nil, false
	}

	var cached []cachedSlot
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}

	slots := make([]schedule.Slot, len(cached))
	for i, s := range cached {
		slots[i] = schedule.Slot{Start: s.Start, End: s.End}
	}
	return slots, true
}

func (c *SlotCache) Set(ctx context.Context, specialistID uuid.UUID, day string, slots []schedule.Slot) {
	cached := make([]cachedSlot, len(slots))
	for i, s := range slots {
		cached[i] = cachedSlot{Start: s.Start, End: s.End}
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, slotKey(specialistID, day), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("specialist_id", specialistID.String()).Msg("slot cache write failed")
	}
}

func (c *SlotCache) Invalidate(ctx context.Context, specialistID uuid.UUID, day string) {
	if err := c.client.Del(ctx, slotKey(specialistID, day)).Err(); err != nil {
		c.log.Warn().Err(err).Str("specialist_id", specialistID.String()).Msg("slot cache invalidation failed")
	}
}
