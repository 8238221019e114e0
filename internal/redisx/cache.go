package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusEntry is the cached answer to a status poll.
type StatusEntry struct {
	Status    string    `json:"status"`
	ETA       *string   `json:"eta"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is a fast path in front of Postgres. Postgres stays the source of
// truth: a miss or a Redis error means "ask the database".
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// IdemOrder returns the order recorded for an idempotency key.
func (c *Cache) IdemOrder(ctx context.Context, userID int64, key string) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency entry %q: %w", v, err)
	}
	return id, true, nil
}

func (c *Cache) SetIdemOrder(ctx context.Context, userID int64, key string, orderID int64) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

func (c *Cache) Status(ctx context.Context, orderID int64) (StatusEntry, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status entry: %w", err)
	}
	return e, true, nil
}

// ErrStatusContended means other writers kept changing the status entry
// while SetStatusIfNewer tried to replace it.
var ErrStatusContended = errors.New("redisx: status entry contended")

const statusWatchRetries = 10

// SetStatusIfNewer writes e unless the cached entry is more recent. Events
// arrive out of order across topics and race the API's own writes, so the
// compare and the write run as one WATCH transaction.
func (c *Cache) SetStatusIfNewer(ctx context.Context, orderID int64, e StatusEntry) (bool, error) {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	var wrote bool
	txf := func(tx *redis.Tx) error {
		wrote = false
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur StatusEntry
			// an undecodable entry is overwritten
			if json.Unmarshal(raw, &cur) == nil && cur.UpdatedAt.After(e.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, TTLStatusCache)
			return nil
		})
		if err == nil {
			wrote = true
		}
		return err
	}

	for range statusWatchRetries {
		err := c.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrote, err
	}
	return false, ErrStatusContended
}

// FirstSeen claims an event id for service. It returns false when the id was
// already claimed, so redelivered messages are skipped.
func (c *Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Forget releases a claimed event id so a failed handler can retry it.
func (c *Cache) Forget(ctx context.Context, service, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}

// Enqueue adds a live order to its vendor's queue, oldest first.
func (c *Cache) Enqueue(ctx context.Context, vendorID, orderID int64, at time.Time) error {
	return c.rdb.ZAdd(ctx, fmt.Sprintf(KeyVendorQueue, vendorID), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: orderID,
	}).Err()
}

func (c *Cache) Dequeue(ctx context.Context, vendorID, orderID int64) error {
	return c.rdb.ZRem(ctx, fmt.Sprintf(KeyVendorQueue, vendorID), orderID).Err()
}

// Queue lists a vendor's live orders in arrival order.
func (c *Cache) Queue(ctx context.Context, vendorID int64) ([]int64, error) {
	members, err := c.rdb.ZRange(ctx, fmt.Sprintf(KeyVendorQueue, vendorID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vendor queue member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
