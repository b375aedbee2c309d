package queue

import (
	"context"

	"covagg/pkg/contract"
)

// Queue: 多生产者/多消费者的工作队列。nil 为哨兵：每个消费者读到一个即退出。
// - 有界通道形成自然背压；
// - Push/Pop 均可被 ctx 取消，任一致命错误不会让生产者卡死在满队列上。
type Queue struct {
	ch chan *contract.WorkItem
}

// New 创建容量为 capacity 的队列（<1 按 1 处理）。
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan *contract.WorkItem, capacity)}
}

// Push 入队一个真实工作项；item 不得为 nil（哨兵只能经由 Close 发送）。
func (q *Queue) Push(ctx context.Context, item *contract.WorkItem) error {
	if item == nil {
		return contract.ErrInvariantViolation
	}
	return q.send(ctx, item)
}

func (q *Queue) send(ctx context.Context, item *contract.WorkItem) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- item:
		return nil
	}
}

// Pop 阻塞直至取得一项。返回 (nil, false) 表示读到哨兵；ctx 取消时返回 ctx 错误。
func (q *Queue) Pop(ctx context.Context) (*contract.WorkItem, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case it := <-q.ch:
		if it == nil {
			return nil, false, nil
		}
		return it, true, nil
	}
}

// Close 在全部生产者完成后调用：每个消费者推送一个哨兵。
// 通道为 FIFO，消费者读到哨兵前必然已排空其前方的全部真实工作。
func (q *Queue) Close(ctx context.Context, consumers int) error {
	for i := 0; i < consumers; i++ {
		if err := q.send(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// Len 返回当前排队数量（仅用于观测）。
func (q *Queue) Len() int { return len(q.ch) }
