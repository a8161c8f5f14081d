package render

import (
	"context"
	"sync"
)

// Queue 待渲染任务 id 的 FIFO 队列
type Queue interface {
	Name() string
	Submit(ctx context.Context, jobID string) error
	// Next 阻塞直到拿到任务或 ctx 结束
	Next(ctx context.Context) (string, error)
	// Done 确认任务已处理完
	Done(ctx context.Context, jobID string) error
	Pending(ctx context.Context) (int64, error)
	Close() error
}

// MemoryQueue 进程内队列, 重启后丢失
type MemoryQueue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Name() string { return "memory" }

func (q *MemoryQueue) Submit(_ context.Context, jobID string) error {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// 唤醒下一个等待者
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Done(context.Context, string) error { return nil }

func (q *MemoryQueue) Pending(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) Close() error { return nil }
