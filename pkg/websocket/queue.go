package websocket

import (
	"context"
	"sync"
	"time"

	"rideguard/pkg/cache"
)

const (
	queueCapacity  = 256
	outboxKeyspace = "sos:outbox:"
	outboxTTL      = 24 * time.Hour
	redisOpTimeout = 2 * time.Second
)

// subscriberQueue is the durable fallback path for one subscriber: an
// in-memory FIFO ring capped at queueCapacity, optionally mirrored to a redis
// list so queued events survive a process restart. Oldest entries are dropped
// on overflow.
type subscriberQueue struct {
	subscriberID string
	mu           sync.Mutex
	entries      [][]byte
}

func newSubscriberQueue(subscriberID string) *subscriberQueue {
	return &subscriberQueue{subscriberID: subscriberID}
}

func (q *subscriberQueue) Enqueue(data []byte, redisCache *cache.RedisCache) {
	if redisCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		key := outboxKeyspace + q.subscriberID
		if err := redisCache.RPush(ctx, key, data); err == nil {
			redisCache.LTrim(ctx, key, -queueCapacity, -1)
			redisCache.SetExpire(ctx, key, outboxTTL)
			return
		}
		// Redis unavailable: fall through to the in-memory ring.
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, data)
	if len(q.entries) > queueCapacity {
		q.entries = q.entries[len(q.entries)-queueCapacity:]
	}
}

func (q *subscriberQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}

func (q *subscriberQueue) DrainRedis(redisCache *cache.RedisCache) [][]byte {
	if redisCache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := outboxKeyspace + q.subscriberID
	values, err := redisCache.LRange(ctx, key, 0, -1)
	if err != nil || len(values) == 0 {
		return nil
	}
	redisCache.Delete(ctx, key)

	entries := make([][]byte, len(values))
	for i, v := range values {
		entries[i] = []byte(v)
	}
	return entries
}
