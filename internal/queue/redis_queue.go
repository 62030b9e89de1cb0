package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vocab-ingest/internal/config"
)

// DispatchQueue coordinates ready, in-flight, and deferred task queues in
// Redis. Postgres stays the source of truth for task state; Redis only
// decides which worker looks at which task next. A task deferred for
// per-source exclusivity lands in the deferred set and is promoted back once
// its delay elapses.
type DispatchQueue struct {
	client         *redis.Client
	priorities     []string
	inflightKey    string
	deferredKey    string
	taskMetaPrefix string
	visibilityTTL  time.Duration
}

// Priority lanes, drained in order.
const (
	PriorityInteractive = "interactive"
	PriorityDefault     = "default"
	PriorityBulk        = "bulk"
)

// NewDispatchQueue builds a queue client from config.
func NewDispatchQueue(cfg config.Config) *DispatchQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &DispatchQueue{
		client:         client,
		priorities:     []string{PriorityInteractive, PriorityDefault, PriorityBulk},
		inflightKey:    "ingest:inflight",
		deferredKey:    "ingest:deferred",
		taskMetaPrefix: "ingest:taskmeta:",
		visibilityTTL:  visibility,
	}
}

func (q *DispatchQueue) readyKey(priority string) string {
	return fmt.Sprintf("ingest:ready:%s", priority)
}

func (q *DispatchQueue) metaKey(taskID string) string {
	return q.taskMetaPrefix + taskID
}

// Enqueue inserts a task into the ready queue for its priority lane.
func (q *DispatchQueue) Enqueue(ctx context.Context, taskID, priority string) error {
	if priority == "" {
		priority = PriorityDefault
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(taskID), "priority", priority)
	pipe.RPush(ctx, q.readyKey(priority), taskID)
	_, err := pipe.Exec(ctx)
	return err
}

// Defer parks a task in the deferred set until runAt. Used when the task's
// source already has a running task: the claim is postponed, never failed.
func (q *DispatchQueue) Defer(ctx context.Context, taskID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.ZAdd(ctx, q.deferredKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: taskID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDeferred moves due deferred tasks back into their ready queues.
func (q *DispatchQueue) PromoteDeferred(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.deferredKey, &redis.ZRangeBy{
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
		pipe.ZRem(ctx, q.deferredKey, id)
		pipe.RPush(ctx, q.readyKey(q.priorityOf(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a task from the ready queues (priority order) and
// places it into the in-flight set with a visibility timeout.
func (q *DispatchQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.priorities)+1)
	for _, p := range q.priorities {
		keys = append(keys, q.readyKey(p))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	taskID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return taskID, nil
}

// ExtendLease pushes the visibility deadline forward for a long-running task.
func (q *DispatchQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a task from in-flight tracking and its meta record.
func (q *DispatchQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.metaKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the tasks.
// Happens after a worker crash; the conditional status transition in
// Postgres keeps a reclaimed task from running twice.
func (q *DispatchQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
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
		pipe.RPush(ctx, q.readyKey(q.priorityOf(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops a task from ready, deferred, and in-flight sets.
func (q *DispatchQueue) Remove(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	for _, p := range q.priorities {
		pipe.LRem(ctx, q.readyKey(p), 0, taskID)
	}
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.ZRem(ctx, q.deferredKey, taskID)
	pipe.Del(ctx, q.metaKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the total length of all ready queues.
func (q *DispatchQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.priorities))
	for _, p := range q.priorities {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// InFlightDepth returns the number of tasks currently under lease.
func (q *DispatchQueue) InFlightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

func (q *DispatchQueue) priorityOf(ctx context.Context, taskID string) string {
	priority, err := q.client.HGet(ctx, q.metaKey(taskID), "priority").Result()
	if err != nil || priority == "" {
		return PriorityDefault
	}
	return priority
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local task = redis.call('LPOP', KEYS[i])
  if task then
    redis.call('ZADD', inflight, ARGV[1], task)
    return task
  end
end
return nil
`)
