// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// NoOpBus - 空操作的 JobBus 实现（用于测试）
// ============================================================================

// NoOpBus 是一个不做任何操作的 JobBus 实现
type NoOpBus struct{}

// NewNoOpBus 创建 NoOpBus 实例
func NewNoOpBus() *NoOpBus {
	return &NoOpBus{}
}

// Close 关闭事件总线
func (b *NoOpBus) Close() error {
	return nil
}

// JobEventBus 方法

func (b *NoOpBus) Publish(ctx context.Context, jobID string, event *StreamEvent) error {
	return nil
}
func (b *NoOpBus) Pull(ctx context.Context, jobID string, timeout time.Duration) (*StreamEvent, error) {
	return nil, nil
}
func (b *NoOpBus) Subscribe(ctx context.Context, jobID string) (<-chan *StreamEvent, error) {
	ch := make(chan *StreamEvent)
	close(ch)
	return ch, nil
}
func (b *NoOpBus) GetEvents(ctx context.Context, jobID string, fromSeq int, count int64) ([]*StreamEvent, error) {
	return []*StreamEvent{}, nil
}
func (b *NoOpBus) GetEventCount(ctx context.Context, jobID string) (int64, error) {
	return 0, nil
}

// JobControlBus 方法

func (b *NoOpBus) SubmitControl(ctx context.Context, jobID string, msg *ControlMessage) error {
	return nil
}
func (b *NoOpBus) PullControl(ctx context.Context, jobID string, timeout time.Duration) (*ControlMessage, error) {
	return nil, nil
}

func (b *NoOpBus) DeleteJob(ctx context.Context, jobID string) error {
	return nil
}

// 确保 NoOpBus 实现了 JobBus 接口
var _ JobBus = (*NoOpBus)(nil)
