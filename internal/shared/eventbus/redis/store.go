// Package redis JobBus 的 Redis Streams 实现
//
// 事件流和控制流各用一个 Stream（job_events:{id} / job_control:{id}），
// 多进程共享：发布者与拉取消费者可以位于不同进程。
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ctf-forge/internal/shared/eventbus"
)

// Store Redis 事件总线存储
type Store struct {
	client *redis.Client

	// 拉取游标：每个 Store 实例是一个独立的拉取消费者
	mu             sync.Mutex
	pullCursors    map[string]string
	controlCursors map[string]string
}

// NewStore 创建 Redis 事件总线实例
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", addr)
	return NewStoreFromClient(client), nil
}

// NewStoreFromURL 从 URL 创建 Redis 事件总线实例
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", opts.Addr)
	return NewStoreFromClient(client), nil
}

// NewStoreFromClient 从已有客户端创建（复用连接）
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{
		client:         client,
		pullCursors:    make(map[string]string),
		controlCursors: make(map[string]string),
	}
}

func eventsKey(jobID string) string {
	return eventbus.KeyJobEvents + jobID
}

func controlKey(jobID string) string {
	return eventbus.KeyJobControl + jobID
}

// DeleteJob 删除 Job 的事件流和控制流
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.pullCursors, jobID)
	delete(s.controlCursors, jobID)
	s.mu.Unlock()

	return s.client.Del(ctx, eventsKey(jobID), controlKey(jobID)).Err()
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// 确保 Store 实现了 JobBus 接口
var _ eventbus.JobBus = (*Store)(nil)
