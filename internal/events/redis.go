package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"kvring/internal/logging"
)

// RedisClient is the subset of redis commands the queue uses. It is satisfied
// by redis.UniversalClient and replaced by a fake in tests.
type RedisClient interface {
	Close() error
	Ping(ctx context.Context) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
}

// NewRedisClient connects to a standalone or cluster deployment and verifies
// the connection with a ping.
func NewRedisClient(ctx context.Context, addrs []string, password string) (RedisClient, error) {
	if len(addrs) == 0 {
		return nil, errors.New("redis addrs is empty")
	}

	c := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// RedisQueue is a Queue stored in a single Redis list. Events are JSON.
type RedisQueue struct {
	client     RedisClient
	key        string
	popTimeout time.Duration
	logger     logrus.FieldLogger
}

// NewRedisQueue creates a queue on key. popTimeout bounds each blocking pop so
// Consume notices cancellation even when the server ignores the context.
func NewRedisQueue(client RedisClient, key string, popTimeout time.Duration, logger logrus.FieldLogger) *RedisQueue {
	if popTimeout <= 0 {
		popTimeout = time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisQueue{
		client:     client,
		key:        key,
		popTimeout: popTimeout,
		logger:     logger.WithField("queue", key),
	}
}

// Produce appends e to the tail of the list.
func (q *RedisQueue) Produce(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Consume blocks for the first event, then drains the rest of the list without
// blocking. Malformed entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (Batch, error) {
	var batch Batch
	for len(batch) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := q.client.BLPop(ctx, q.popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("blpop %s: %w", q.key, err)
		}
		// BLPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}
		if e, ok := q.decode(res[1]); ok {
			batch = append(batch, e)
		}
	}

	for {
		raw, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return batch, nil
		}
		if err != nil {
			// The first event is already off the list; hand back what we have.
			q.logger.WithError(err).Warn("lpop failed, returning partial batch")
			return batch, nil
		}
		if e, ok := q.decode(raw); ok {
			batch = append(batch, e)
		}
	}
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) decode(raw string) (Event, bool) {
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		q.logger.WithError(err).WithField("raw", raw).Warn("dropping malformed event")
		return Event{}, false
	}
	return e, true
}
