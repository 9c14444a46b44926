package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis lists holding pending, in-flight and dead-lettered webhook events.
const (
	EventsQueue     = "webhook_events"
	ProcessingQueue = "webhook_events:processing"
	FailedQueue     = "failed_webhook_events"
)

// Envelope is one queued webhook delivery.
type Envelope struct {
	ID         string          `json:"id"`
	Provider   string          `json:"provider"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	ReceivedAt time.Time       `json:"received_at"`
	LastError  string          `json:"last_error,omitempty"`

	// raw is the entry as it sits in the processing list.
	raw string
}

// Queue is a Redis list based FIFO with a dead-letter list. Dequeued entries
// stay in a processing list until they are acked, requeued or dead-lettered,
// so a crash mid-event leaves them recoverable.
type Queue struct {
	rdb        *redis.Client
	name       string
	processing string
	failed     string
}

// NewQueue builds a queue over the default lists.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, name: EventsQueue, processing: ProcessingQueue, failed: FailedQueue}
}

// Enqueue appends env to the queue.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode webhook envelope: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("push webhook event: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next envelope. ok is false when the
// wait timed out with nothing to do.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (env Envelope, ok bool, err error) {
	raw, err := q.rdb.BLMove(ctx, q.name, q.processing, "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// keep the undecodable bytes for inspection
		_, _ = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.RPush(ctx, q.failed, raw)
			return nil
		})
		return Envelope{}, false, fmt.Errorf("decode webhook envelope: %w", err)
	}
	env.raw = raw
	return env, true, nil
}

// Ack drops a processed env from the processing list.
func (q *Queue) Ack(ctx context.Context, env Envelope) error {
	if env.raw == "" {
		return nil
	}
	if err := q.rdb.LRem(ctx, q.processing, 1, env.raw).Err(); err != nil {
		return fmt.Errorf("ack webhook event: %w", err)
	}
	return nil
}

// Requeue puts env back at the head of the queue with its attempt count.
func (q *Queue) Requeue(ctx context.Context, env Envelope) error {
	return q.move(ctx, env, func(pipe redis.Pipeliner, data []byte) {
		pipe.LPush(ctx, q.name, data)
	})
}

// DeadLetter moves env to the failed list.
func (q *Queue) DeadLetter(ctx context.Context, env Envelope) error {
	err := q.move(ctx, env, func(pipe redis.Pipeliner, data []byte) {
		pipe.RPush(ctx, q.failed, data)
	})
	if err != nil {
		return fmt.Errorf("push webhook event to dead letter list: %w", err)
	}
	return nil
}

// move swaps env's processing entry for its current encoding in one MULTI.
func (q *Queue) move(ctx context.Context, env Envelope, push func(redis.Pipeliner, []byte)) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode webhook envelope: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if env.raw != "" {
			pipe.LRem(ctx, q.processing, 1, env.raw)
		}
		push(pipe, data)
		return nil
	})
	return err
}

// Recover returns entries left in the processing list by a previous run to
// the head of the queue. It must run before any worker dequeues.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover webhook events: %w", err)
		}
		n++
	}
}

// Depth returns the pending and dead-lettered counts.
func (q *Queue) Depth(ctx context.Context) (pending, failed int64, err error) {
	if pending, err = q.rdb.LLen(ctx, q.name).Result(); err != nil {
		return 0, 0, err
	}
	if failed, err = q.rdb.LLen(ctx, q.failed).Result(); err != nil {
		return 0, 0, err
	}
	return pending, failed, nil
}
