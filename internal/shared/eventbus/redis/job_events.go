// Package redis JobEvents 事件流操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ctf-forge/internal/shared/eventbus"
)

// Publish 发布 Job 事件
//
// 事件始终进入 Stream：实时订阅者和晚到的拉取消费者读的是同一条流，
// 不存在只有实时订阅者可见的事件。
func (s *Store) Publish(ctx context.Context, jobID string, event *eventbus.StreamEvent) error {
	key := eventsKey(jobID)

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"seq":       event.Seq,
			"type":      event.Type,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	event.ID = id

	log.Printf("[Redis/EventBus] Published event: job=%s id=%s seq=%d type=%s", jobID, id, event.Seq, event.Type)
	return nil
}

// Pull 拉取下一条未读事件，最多阻塞 timeout，超时返回 (nil, nil)
func (s *Store) Pull(ctx context.Context, jobID string, timeout time.Duration) (*eventbus.StreamEvent, error) {
	key := eventsKey(jobID)

	s.mu.Lock()
	lastID, ok := s.pullCursors[jobID]
	if !ok {
		lastID = "0"
	}
	s.mu.Unlock()

	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, lastID},
		Count:   1,
		Block:   timeout,
	}).Result()

	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pull event: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.mu.Lock()
			s.pullCursors[jobID] = msg.ID
			s.mu.Unlock()
			return decodeStreamEvent(jobID, msg), nil
		}
	}
	return nil, nil
}

// Subscribe 订阅 Job 事件流（从当前位置开始）
func (s *Store) Subscribe(ctx context.Context, jobID string) (<-chan *eventbus.StreamEvent, error) {
	key := eventsKey(jobID)
	ch := make(chan *eventbus.StreamEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[Redis/EventBus] Event subscription error: %v", err)
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- decodeStreamEvent(jobID, msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// GetEvents 获取历史事件列表（seq 大于 fromSeq 的事件）
func (s *Store) GetEvents(ctx context.Context, jobID string, fromSeq int, count int64) ([]*eventbus.StreamEvent, error) {
	key := eventsKey(jobID)

	msgs, err := s.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	var events []*eventbus.StreamEvent
	for _, msg := range msgs {
		event := decodeStreamEvent(jobID, msg)
		if event.Seq <= fromSeq {
			continue
		}
		events = append(events, event)

		if count > 0 && int64(len(events)) >= count {
			break
		}
	}
	return events, nil
}

// GetEventCount 获取事件数量
func (s *Store) GetEventCount(ctx context.Context, jobID string) (int64, error) {
	return s.client.XLen(ctx, eventsKey(jobID)).Result()
}

// decodeStreamEvent 从 Stream 消息解码事件
func decodeStreamEvent(jobID string, msg redis.XMessage) *eventbus.StreamEvent {
	event := &eventbus.StreamEvent{
		ID:    msg.ID,
		JobID: jobID,
	}

	if t, ok := msg.Values["type"].(string); ok {
		event.Type = t
	}
	if seqStr, ok := msg.Values["seq"].(string); ok {
		if seq, err := strconv.Atoi(seqStr); err == nil {
			event.Seq = seq
		}
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if payloadStr, ok := msg.Values["payload"].(string); ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadStr), &payload); err == nil {
			event.Payload = payload
		}
	}
	return event
}
