package sandbox

import (
	"context"
)

// InputRequester 人在环输入通道
//
// 实现方负责把问题投递给操作者并在限定时间内等待回复。
// 超时或任务取消时返回错误。
type InputRequester interface {
	RequestInput(ctx context.Context, jobID, prompt string) (string, error)
}

// RequestUserInput 向操作者提问并阻塞等待回复
//
// 未配置输入通道时直接返回错误，让模型自行决策。
func (s *Sandbox) RequestUserInput(ctx context.Context, prompt string) ToolResult {
	if s.inputRequester == nil {
		return errResult("user input is not available for this job")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.policy.InputWait)
	defer cancel()

	reply, err := s.inputRequester.RequestInput(waitCtx, s.jobID, prompt)
	if err != nil {
		return errResult("request user input: %v", err)
	}

	return okResult(map[string]interface{}{
		"response": reply,
	})
}
