package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"chronosend/internal/model"
)

const keyPrefix = "msgack:"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type ackValue struct {
	TaskID    string    `json:"taskId,omitempty"`
	Ack       int       `json:"ack"`
	Acked     bool      `json:"acked,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// merge mirrors the store's receipt upsert: send-side writes only fill the task id,
// acks replace send-side values and otherwise require a newer or equal time.
func merge(cur, next ackValue) (ackValue, bool) {
	replace := next.Acked && (!cur.Acked || !next.UpdatedAt.Before(cur.UpdatedAt))
	if !replace {
		if cur.TaskID != "" || next.TaskID == "" {
			return cur, false
		}
		cur.TaskID = next.TaskID
		return cur, true
	}
	if next.TaskID == "" {
		next.TaskID = cur.TaskID
	}
	return next, true
}

func (c *RedisCache) Put(ctx context.Context, r model.Receipt) error {
	key := keyPrefix + r.MessageID
	// Optimistic transaction: retry once if another writer touched the key.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, ok, err := decode(tx.Get(ctx, key))
			if err != nil {
				return err
			}
			next := ackValue{TaskID: r.TaskID, Ack: int(r.Ack), Acked: r.Acked, UpdatedAt: r.UpdatedAt.UTC()}
			if ok {
				var changed bool
				if next, changed = merge(cur, next); !changed {
					return nil
				}
			}
			b, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, b, c.ttl)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (c *RedisCache) Get(ctx context.Context, messageID string) (model.Receipt, bool, error) {
	v, ok, err := decode(c.rdb.Get(ctx, keyPrefix+messageID))
	if err != nil || !ok {
		return model.Receipt{}, false, err
	}
	return model.Receipt{MessageID: messageID, TaskID: v.TaskID, Ack: model.AckLevel(v.Ack), Acked: v.Acked, UpdatedAt: v.UpdatedAt}, true, nil
}

func decode(cmd *redis.StringCmd) (ackValue, bool, error) {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return ackValue{}, false, nil
	}
	if err != nil {
		return ackValue{}, false, err
	}
	var v ackValue
	if err := json.Unmarshal(b, &v); err != nil {
		return ackValue{}, false, err
	}
	return v, true, nil
}
