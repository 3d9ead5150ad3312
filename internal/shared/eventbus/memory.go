// Package eventbus 进程内事件总线实现
//
// Redis 不可用时的降级实现：发布者与消费者必须处于同一进程，
// 跨进程场景下拉取消费者将读不到任何事件（只记录日志，不报错）。
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBus 进程内事件总线
type MemoryBus struct {
	mu   sync.Mutex
	jobs map[string]*memJob
}

// memJob 单个 Job 的进程内状态
type memJob struct {
	events      []*StreamEvent
	pullQueue   chan *StreamEvent
	controlQue  chan *ControlMessage
	subscribers map[chan *StreamEvent]struct{}
	nextSeq     int
}

// NewMemoryBus 创建进程内事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		jobs: make(map[string]*memJob),
	}
}

// job 获取或创建 Job 状态（调用者须持有锁）
func (b *MemoryBus) job(jobID string) *memJob {
	j, ok := b.jobs[jobID]
	if !ok {
		j = &memJob{
			pullQueue:   make(chan *StreamEvent, MaxStreamLength),
			controlQue:  make(chan *ControlMessage, MaxStreamLength),
			subscribers: make(map[chan *StreamEvent]struct{}),
			nextSeq:     1,
		}
		b.jobs[jobID] = j
	}
	return j
}

// Publish 发布事件：实时订阅者 + 拉取队列两条路径
func (b *MemoryBus) Publish(ctx context.Context, jobID string, event *StreamEvent) error {
	b.mu.Lock()
	j := b.job(jobID)

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.JobID == "" {
		event.JobID = jobID
	}
	if event.Seq == 0 {
		event.Seq = j.nextSeq
	}
	if event.Seq >= j.nextSeq {
		j.nextSeq = event.Seq + 1
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.events = append(j.events, event)
	if len(j.events) > MaxStreamLength {
		j.events = j.events[len(j.events)-MaxStreamLength:]
	}

	// 实时订阅者：发送失败（缓冲满）的连接直接移除
	for ch := range j.subscribers {
		select {
		case ch <- event:
		default:
			delete(j.subscribers, ch)
			close(ch)
		}
	}

	// 拉取队列：满了丢最旧的，保证新事件总能入队
	select {
	case j.pullQueue <- event:
	default:
		select {
		case <-j.pullQueue:
		default:
		}
		j.pullQueue <- event
	}

	b.mu.Unlock()
	return nil
}

// Pull 拉取下一条未读事件，超时返回 (nil, nil)
func (b *MemoryBus) Pull(ctx context.Context, jobID string, timeout time.Duration) (*StreamEvent, error) {
	b.mu.Lock()
	j := b.job(jobID)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-j.pullQueue:
		return event, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

// Subscribe 订阅实时事件流，ctx 取消后通道关闭
func (b *MemoryBus) Subscribe(ctx context.Context, jobID string) (<-chan *StreamEvent, error) {
	b.mu.Lock()
	j := b.job(jobID)
	ch := make(chan *StreamEvent, 100)
	j.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := j.subscribers[ch]; ok {
			delete(j.subscribers, ch)
			close(ch)
		}
	}()

	return ch, nil
}

// GetEvents 获取历史事件列表（seq 大于 fromSeq 的事件）
func (b *MemoryBus) GetEvents(ctx context.Context, jobID string, fromSeq int, count int64) ([]*StreamEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := b.job(jobID)
	var events []*StreamEvent
	for _, e := range j.events {
		if e.Seq <= fromSeq {
			continue
		}
		events = append(events, e)
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}
	return events, nil
}

// GetEventCount 获取事件数量
func (b *MemoryBus) GetEventCount(ctx context.Context, jobID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.job(jobID).events)), nil
}

// SubmitControl 提交控制消息
func (b *MemoryBus) SubmitControl(ctx context.Context, jobID string, msg *ControlMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := b.job(jobID)
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.JobID == "" {
		msg.JobID = jobID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	// 控制队列满说明没有消费者在等，丢最旧的
	select {
	case j.controlQue <- msg:
	default:
		select {
		case <-j.controlQue:
		default:
		}
		j.controlQue <- msg
	}
	return nil
}

// PullControl 拉取下一条控制消息，超时返回 (nil, nil)
func (b *MemoryBus) PullControl(ctx context.Context, jobID string, timeout time.Duration) (*ControlMessage, error) {
	b.mu.Lock()
	j := b.job(jobID)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-j.controlQue:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

// DeleteJob 删除 Job 的全部事件和控制状态
func (b *MemoryBus) DeleteJob(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if j, ok := b.jobs[jobID]; ok {
		for ch := range j.subscribers {
			close(ch)
		}
		// 订阅者的 ctx 取消协程还持有同一个 memJob，清空映射避免二次关闭
		j.subscribers = make(map[chan *StreamEvent]struct{})
		delete(b.jobs, jobID)
	}
	return nil
}

// Close 关闭事件总线
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, j := range b.jobs {
		for ch := range j.subscribers {
			close(ch)
		}
		j.subscribers = make(map[chan *StreamEvent]struct{})
	}
	return nil
}

// 确保 MemoryBus 实现了 JobBus 接口
var _ JobBus = (*MemoryBus)(nil)
