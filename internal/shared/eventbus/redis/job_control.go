// Package redis JobControl 控制流操作
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

// SubmitControl 提交控制消息（反方向：观察者 → Controller）
func (s *Store) SubmitControl(ctx context.Context, jobID string, msg *eventbus.ControlMessage) error {
	key := controlKey(jobID)

	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal control payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"seq":       msg.Seq,
			"type":      msg.Type,
			"timestamp": msg.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to submit control message: %w", err)
	}
	msg.ID = id

	log.Printf("[Redis/EventBus] Submitted control message: job=%s id=%s type=%s", jobID, id, msg.Type)
	return nil
}

// PullControl 拉取下一条控制消息，最多阻塞 timeout，超时返回 (nil, nil)
func (s *Store) PullControl(ctx context.Context, jobID string, timeout time.Duration) (*eventbus.ControlMessage, error) {
	key := controlKey(jobID)

	s.mu.Lock()
	lastID, ok := s.controlCursors[jobID]
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
		return nil, fmt.Errorf("failed to pull control message: %w", err)
	}

	for _, stream := range streams {
		for _, m := range stream.Messages {
			s.mu.Lock()
			s.controlCursors[jobID] = m.ID
			s.mu.Unlock()
			return decodeControlMessage(jobID, m), nil
		}
	}
	return nil, nil
}

// decodeControlMessage 从 Stream 消息解码控制消息
func decodeControlMessage(jobID string, msg redis.XMessage) *eventbus.ControlMessage {
	m := &eventbus.ControlMessage{
		ID:    msg.ID,
		JobID: jobID,
	}

	if t, ok := msg.Values["type"].(string); ok {
		m.Type = t
	}
	if seqStr, ok := msg.Values["seq"].(string); ok {
		if seq, err := strconv.Atoi(seqStr); err == nil {
			m.Seq = seq
		}
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = t
		}
	}
	if payloadStr, ok := msg.Values["payload"].(string); ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadStr), &payload); err == nil {
			m.Payload = payload
		}
	}
	return m
}
