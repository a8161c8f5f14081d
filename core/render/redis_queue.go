package render

import (
	"context"
	"errors"
	"time"

	"BratGen/logger"

	"github.com/go-redis/redis/v8"
)

// RedisQueue 基于 list 的持久队列. 取出的任务先移到 processing 列表, Done 后删除,
// 进程崩溃后由 Recover 放回队列.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string
	processingKey string
	pollTimeout   time.Duration
}

func NewRedisQueue(client *redis.Client, keyPrefix string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		queueKey:      keyPrefix + ":queue",
		processingKey: keyPrefix + ":processing",
		pollTimeout:   5 * time.Second,
	}
}

func (q *RedisQueue) Name() string { return "redis" }

func (q *RedisQueue) Submit(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, q.queueKey, jobID).Err()
}

// Recover 把上次未确认的任务放回队列
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) Next(ctx context.Context) (string, error) {
	for {
		id, err := q.client.BRPopLPush(ctx, q.queueKey, q.processingKey, q.pollTimeout).Result()
		if err == nil {
			return id, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		logger.Warn("读取 Redis 渲染队列失败", logger.ErrorField(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (q *RedisQueue) Done(ctx context.Context, jobID string) error {
	return q.client.LRem(ctx, q.processingKey, 1, jobID).Err()
}

func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueKey).Result()
}

func (q *RedisQueue) Close() error { return nil }

// NewQueue client 为 nil 时使用进程内队列
func NewQueue(ctx context.Context, client *redis.Client, keyPrefix string) Queue {
	if client == nil {
		logger.Info("渲染队列使用进程内实现")
		return NewMemoryQueue()
	}
	q := NewRedisQueue(client, keyPrefix)
	if n, err := q.Recover(ctx); err != nil {
		logger.Warn("恢复 Redis 渲染队列失败", logger.ErrorField(err))
	} else if n > 0 {
		logger.Info("已恢复未完成的渲染任务", logger.Int("count", n))
	}
	logger.Info("渲染队列使用 Redis", logger.String("key", q.queueKey))
	return q
}
