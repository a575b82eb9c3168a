package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"traffic-control-backend/internal/config"
)

// NotifyQueue coordinates the ready and in-flight notification queues in
// Redis. Members are notification row ids; bodies stay in Postgres.
type NotifyQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
}

// New builds a queue client from config.
func New(cfg config.Config) *NotifyQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewWithClient(client, cfg.DLQName, cfg.VisibilityTimeout)
}

// NewWithClient wires an existing Redis client, used by tests with miniredis.
func NewWithClient(client *redis.Client, dlqKey string, visibility time.Duration) *NotifyQueue {
	if dlqKey == "" {
		dlqKey = "notify:dlq"
	}
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &NotifyQueue{
		client:        client,
		readyKey:      "notify:ready",
		inflightKey:   "notify:inflight",
		scheduledKey:  "notify:scheduled",
		dlqKey:        dlqKey,
		visibilityTTL: visibility,
	}
}

// Enqueue appends a notification id to the ready queue.
func (q *NotifyQueue) Enqueue(ctx context.Context, id string) error {
	return q.client.RPush(ctx, q.readyKey, id).Err()
}

// DequeueWithLease pops the next ready id and parks it in-flight with a
// visibility deadline. Empty string means the queue is idle.
func (q *NotifyQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return id, nil
}

// Ack removes a delivered (or dead-lettered) id from in-flight tracking.
func (q *NotifyQueue) Ack(ctx context.Context, id string) error {
	return q.client.ZRem(ctx, q.inflightKey, id).Err()
}

// Schedule parks an id for a retry attempt at runAt.
func (q *NotifyQueue) Schedule(ctx context.Context, id string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due retries back onto the ready queue, returning
// how many were promoted.
func (q *NotifyQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases whose visibility deadline passed.
func (q *NotifyQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends an id to the dead-letter queue for operator inspection.
func (q *NotifyQueue) DLQPush(ctx context.Context, id string) error {
	return q.client.RPush(ctx, q.dlqKey, id).Err()
}

// DLQPeek reads up to count dead-lettered ids.
func (q *NotifyQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// Depth returns the ready queue length.
func (q *NotifyQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
