package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vocab-ingest/internal/config"
)

// Hub relays task progress events over Redis pub/sub so the worker process
// can emit and the API process can stream, with any number of subscribers
// per task. Publishing to a channel nobody listens on is a no-op in Redis,
// which is exactly the decoupling the executor needs.
type Hub struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// NewHub builds a hub from config.
func NewHub(cfg config.Config, log *zap.SugaredLogger) *Hub {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Hub{client: client, log: log}
}

// NewHubWithClient builds a hub around an existing Redis client. Used in tests.
func NewHubWithClient(client *redis.Client, log *zap.SugaredLogger) *Hub {
	return &Hub{client: client, log: log}
}

func channelFor(taskID string) string {
	return "progress:" + taskID
}

// Publish broadcasts one event for a task. Errors are logged, not returned:
// a broken observer path must never fail the handler.
func (h *Hub) Publish(ctx context.Context, taskID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Warnw("marshal progress event", "task_id", taskID, "error", err)
		return
	}
	if err := h.client.Publish(ctx, channelFor(taskID), payload).Err(); err != nil {
		h.log.Warnw("publish progress event", "task_id", taskID, "error", err)
	}
}

// Subscribe attaches to a task's progress channel. The returned channel is
// closed when ctx ends or stop is called; callers relay until a terminal
// event or client disconnect.
func (h *Hub) Subscribe(ctx context.Context, taskID string) (<-chan Event, func()) {
	pubsub := h.client.Subscribe(ctx, channelFor(taskID))
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.log.Warnw("decode progress event", "task_id", taskID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop
}
