// Package infra Redis 基础设施初始化
package infra

import (
	"log"

	"ctf-forge/internal/shared/eventbus"
	eventbusredis "ctf-forge/internal/shared/eventbus/redis"
)

// NewJobBus 创建事件总线：优先 Redis Streams，失败时降级为进程内实现
//
// 降级只记录日志，不向调用方报错。进程内实现仅在发布者与消费者
// 同进程时正确工作（跨进程观察者将读不到事件）。
func NewJobBus(redisURL string) eventbus.JobBus {
	if redisURL == "" {
		log.Printf("[Infra] Redis URL not configured, using in-process event bus")
		return eventbus.NewMemoryBus()
	}

	bus, err := eventbusredis.NewStoreFromURL(redisURL)
	if err != nil {
		log.Printf("[Infra] Redis unavailable, falling back to in-process event bus: %v", err)
		return eventbus.NewMemoryBus()
	}
	return bus
}
