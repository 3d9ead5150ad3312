// Package eventbus 事件总线抽象接口
//
// 提供按 Job 分组的事件发布/订阅能力和反向控制通道，
// 当前由 Redis Streams 实现，Redis 不可用时降级为进程内实现。
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// JobEventBus Job 事件总线接口
//
// Publish 语义：事件同时进入两条路径 —
//  1. 推送给该 Job 的所有实时订阅者（发送失败的订阅者被移除）
//  2. 追加到拉取队列（晚到的拉取消费者依然能读到全部事件）
type JobEventBus interface {
	Publish(ctx context.Context, jobID string, event *StreamEvent) error
	// Pull 返回该 Job 下一条未读事件，最多阻塞 timeout；
	// 超时返回 (nil, nil)，空队列不是错误。
	Pull(ctx context.Context, jobID string, timeout time.Duration) (*StreamEvent, error)
	Subscribe(ctx context.Context, jobID string) (<-chan *StreamEvent, error)
	GetEvents(ctx context.Context, jobID string, fromSeq int, count int64) ([]*StreamEvent, error)
	GetEventCount(ctx context.Context, jobID string) (int64, error)
}

// JobControlBus Job 控制通道接口（与事件通道对称，方向相反）
type JobControlBus interface {
	SubmitControl(ctx context.Context, jobID string, msg *ControlMessage) error
	// PullControl 语义与 Pull 相同：超时返回 (nil, nil)。
	PullControl(ctx context.Context, jobID string, timeout time.Duration) (*ControlMessage, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// JobBus 事件总线组合接口
type JobBus interface {
	JobEventBus
	JobControlBus
	DeleteJob(ctx context.Context, jobID string) error
	Close() error
}
