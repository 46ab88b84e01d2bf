package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"ticket-engine/internal/status"
)

// maxReserveRetries bounds the optimistic-lock retry loop under contention
// for the same event.
const maxReserveRetries = 5

// Manager serializes remaining-capacity changes for an event. The counter
// lives in Redis under event:stock:<id>; reserve is a WATCH-guarded
// check-and-decrement, so two concurrent reservations can never both
// succeed on stock that only covers one of them.
type Manager struct {
	Redis *redis.Client
}

func NewManager(redisClient *redis.Client) *Manager {
	return &Manager{Redis: redisClient}
}

func stockKey(eventID string) string {
	return fmt.Sprintf("event:stock:%s", eventID)
}

// Reserve atomically checks remaining >= quantity and decrements. A missing
// counter means the event is unknown here and sells nothing.
func (m *Manager) Reserve(ctx context.Context, eventID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", status.ErrInvalidMetadata)
	}

	key := stockKey(eventID)

	for attempt := 0; attempt < maxReserveRetries; attempt++ {
		err := m.Redis.Watch(ctx, func(tx *redis.Tx) error {
			remaining, err := tx.Get(ctx, key).Int64()
			if err == redis.Nil {
				return status.ErrOutOfStock
			}
			if err != nil {
				return err
			}

			if remaining < int64(quantity) {
				return status.ErrOutOfStock
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.DecrBy(ctx, key, int64(quantity))
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			// Lost the optimistic lock to a concurrent reserve/release;
			// re-read and try again.
			continue
		}
		if err != nil {
			if !errors.Is(err, status.ErrOutOfStock) {
				slog.Error("stock reservation failed", "event_id", eventID, "quantity", quantity, "error", err)
			}
			return err
		}
		return nil
	}

	return fmt.Errorf("reserve %s: too much contention", eventID)
}

// Release returns quantity to the event's counter, on cancellation or
// expiry cleanup. There is deliberately no ceiling check; see DESIGN.md.
func (m *Manager) Release(ctx context.Context, eventID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", status.ErrInvalidMetadata)
	}

	if err := m.Redis.IncrBy(ctx, stockKey(eventID), int64(quantity)).Err(); err != nil {
		slog.Error("stock release failed", "event_id", eventID, "quantity", quantity, "error", err)
		return err
	}
	return nil
}

// Remaining reports the current counter for an event.
func (m *Manager) Remaining(ctx context.Context, eventID string) (int64, error) {
	remaining, err := m.Redis.Get(ctx, stockKey(eventID)).Int64()
	if err == redis.Nil {
		return 0, status.ErrOutOfStock
	}
	return remaining, err
}

// SyncStock seeds the Redis counters from the catalog on serve: per event,
// total capacity minus the quantities already issued. SETNX keeps a live
// counter authoritative over the recomputed one, so a restart never
// clobbers in-flight reservations.
//
// Cancelled tickets are indistinguishable from admitted ones here (both
// are terminal used=TRUE) and stay subtracted even though their stock was
// already released, so a re-seed can undercount remaining capacity but
// never oversell.
func SyncStock(app core.App, redisClient *redis.Client) error {
	ctx := context.Background()

	var rows []dbx.NullStringMap
	if err := app.DB().NewQuery(
		`SELECT e.id AS id, e.total_capacity - COALESCE(SUM(t.quantity), 0) AS remaining
		 FROM events e
		 LEFT JOIN tickets t ON t.event_id = e.id
		 WHERE e.status = 'publish'
		 GROUP BY e.id`,
	).All(&rows); err != nil {
		return fmt.Errorf("sync stock: %w", err)
	}

	seeded := 0
	for _, row := range rows {
		eventID := row["id"].String
		if eventID == "" {
			continue
		}

		remaining, err := strconv.ParseInt(row["remaining"].String, 10, 64)
		if err != nil {
			slog.Error("sync stock: bad remaining value", "event_id", eventID, "value", row["remaining"].String)
			continue
		}
		if remaining < 0 {
			remaining = 0
		}

		set, err := redisClient.SetNX(ctx, stockKey(eventID), remaining, 0).Result()
		if err != nil {
			return fmt.Errorf("sync stock %s: %w", eventID, err)
		}
		if set {
			seeded++
		}
	}

	slog.Info("event stock synced to Redis", "events", len(rows), "seeded", seeded)
	return nil
}
