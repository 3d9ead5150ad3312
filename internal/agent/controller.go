package agent

import (
	"context"
	"fmt"
	"strings"

	"ctf-forge/internal/model"
	"ctf-forge/internal/sandbox"
	"ctf-forge/pkg/logging"
)

// Status 循环的终态
type Status string

const (
	// StatusCompleted 模型宣告完成
	StatusCompleted Status = "completed"
	// StatusBudgetExhausted 迭代预算耗尽
	StatusBudgetExhausted Status = "budget_exhausted"
)

// completionPhrases 完成判定短语（小写子串匹配）
var completionPhrases = []string{
	"challenge is complete",
	"final summary",
	"verification successful",
}

// maxConsecutiveModelFailures 连续模型调用失败上限
//
// 瞬时失败折叠进对话让模型重试；连续超限视为不可恢复。
const maxConsecutiveModelFailures = 3

// Emitter 进度事件回调（由 jobs 层接到事件总线）
type Emitter func(eventType string, payload map[string]interface{})

// Options 循环配置
type Options struct {
	// Model 模型名称
	Model string
	// MaxIterations 迭代预算
	MaxIterations int
	// SystemPrompt 系统指令
	SystemPrompt string
	// UserPrompt 初始任务指令
	UserPrompt string
}

// Controller 驱动 模型调用 → 工具分发 的生成循环
type Controller struct {
	provider   model.Provider
	sandbox    *sandbox.Sandbox
	opts       Options
	emit       Emitter
	logger     *logging.Logger
	transcript *Transcript
}

// NewController 创建循环控制器
func NewController(provider model.Provider, sb *sandbox.Sandbox, opts Options, emit Emitter, logger *logging.Logger) *Controller {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 30
	}
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	}
	if logger == nil {
		logger = logging.Default("agent")
	}
	return &Controller{
		provider:   provider,
		sandbox:    sb,
		opts:       opts,
		emit:       emit,
		logger:     logger,
		transcript: NewTranscript(opts.UserPrompt),
	}
}

// Transcript 返回当前对话记录
func (c *Controller) Transcript() *Transcript {
	return c.transcript
}

// Run 执行生成循环直到完成、预算耗尽或不可恢复错误
//
// 错误策略：瞬时模型错误作为合成 user 回合折叠进对话重试，
// 连续 3 次失败或命中不可恢复错误（认证/配额）即中止。
// 单个工具失败永远不中止循环，结果原样回传给模型。
func (c *Controller) Run(ctx context.Context) (Status, error) {
	specs := sandbox.Specs()
	consecutiveFailures := 0

	for iteration := 1; iteration <= c.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("job aborted at iteration %d: %w", iteration, err)
		}

		c.emit("iteration", map[string]interface{}{
			"iteration":      iteration,
			"max_iterations": c.opts.MaxIterations,
		})

		turn, err := c.provider.Generate(ctx, model.Request{
			Model:        c.opts.Model,
			SystemPrompt: c.opts.SystemPrompt,
			Messages:     c.transcript.Messages(),
			Tools:        specs,
		})
		if err != nil {
			if model.IsPermanent(err) {
				return "", fmt.Errorf("model call failed permanently: %w", err)
			}
			consecutiveFailures++
			c.logger.WithError(err).Warn("模型调用失败",
				"iteration", iteration,
				"consecutive_failures", consecutiveFailures)
			if consecutiveFailures >= maxConsecutiveModelFailures {
				return "", fmt.Errorf("model call failed %d times in a row: %w", consecutiveFailures, err)
			}
			// 折叠进对话，让模型在下一轮重试
			c.transcript.AddUser(fmt.Sprintf("The previous model call failed (%v). Please continue from where you left off.", err))
			continue
		}
		consecutiveFailures = 0

		c.transcript.AddAssistant(turn)
		if turn.Text != "" {
			c.emit("assistant_message", map[string]interface{}{
				"text": turn.Text,
			})
		}

		if len(turn.ToolCalls) > 0 {
			c.runToolCalls(ctx, turn.ToolCalls)
			continue
		}

		if isComplete(turn.Text) {
			c.logger.Info("生成完成", "iteration", iteration)
			return StatusCompleted, nil
		}

		// 无工具调用也未宣告完成：推一把，预算将尽时要求收尾
		remaining := c.opts.MaxIterations - iteration
		if remaining <= 2 {
			c.transcript.AddUser("You are almost out of iterations. Finish the remaining work now and state that the challenge is complete.")
		} else {
			c.transcript.AddUser("Continue working on the challenge. Use the available tools, or state that the challenge is complete if it is done.")
		}
	}

	c.logger.Warn("迭代预算耗尽", "max_iterations", c.opts.MaxIterations)
	return StatusBudgetExhausted, nil
}

// runToolCalls 顺序分发工具调用并把结果追加为一条工具回合
func (c *Controller) runToolCalls(ctx context.Context, calls []sandbox.ToolCall) {
	replies := make([]model.ToolReply, 0, len(calls))
	for _, call := range calls {
		c.emit("tool_call", map[string]interface{}{
			"tool":      call.Name,
			"arguments": call.Arguments,
		})

		result := c.sandbox.Dispatch(ctx, call)

		payload := map[string]interface{}{
			"tool":  call.Name,
			"error": result.IsError(),
		}
		if result.IsError() {
			payload["message"] = result.Err
			c.logger.Warn("工具执行失败", "tool", call.Name, "error", result.Err)
		}
		c.emit("tool_result", payload)

		replies = append(replies, replyFor(call, result))
	}
	c.transcript.AddToolReplies(replies)
}

// isComplete 完成短语判定（小写子串匹配）
func isComplete(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
