// Package jobs 人在环输入桥接
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ctf-forge/internal/shared/eventbus"
)

// controlPollTimeout 控制通道单次拉取的阻塞时长
const controlPollTimeout = 2 * time.Second

// busInputRequester 把沙箱的人工输入请求接到事件总线
//
// 流程：发布 user_input_requested 事件（带 correlation_id），
// 然后在控制通道上等待携带相同 correlation_id 的 user_input 回复。
// 等待上限由调用方的 ctx 决定（沙箱按策略设了超时）。
type busInputRequester struct {
	bus     eventbus.JobControlBus
	publish func(eventType string, payload map[string]interface{})
}

func (r *busInputRequester) RequestInput(ctx context.Context, jobID, prompt string) (string, error) {
	correlationID := uuid.New().String()

	r.publish(eventbus.EventUserInputRequested, map[string]interface{}{
		"prompt":         prompt,
		"correlation_id": correlationID,
	})

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("waiting for user input: %w", err)
		}

		msg, err := r.bus.PullControl(ctx, jobID, controlPollTimeout)
		if err != nil {
			return "", fmt.Errorf("pull control message: %w", err)
		}
		if msg == nil {
			continue
		}
		if msg.Type != eventbus.ControlUserInput || msg.CorrelationID() != correlationID {
			// 不相干的控制消息丢弃（一个任务同时只挂起一个输入请求）
			continue
		}

		if response, ok := msg.Payload["response"].(string); ok {
			return response, nil
		}
		return "", fmt.Errorf("control message %s has no response payload", msg.ID)
	}
}
