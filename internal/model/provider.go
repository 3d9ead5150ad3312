// Package model LLM 提供方的统一抽象
//
// 生成循环只依赖这里的接口和类型，具体 SDK（Gemini 等）在子包实现。
package model

import (
	"context"
	"errors"

	"ctf-forge/internal/sandbox"
)

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolReply 工具执行结果回传
type ToolReply struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Message 对话中的一条消息
//
// 助手消息可同时携带文本和工具调用；用户消息可携带工具结果
// （工具结果按 Gemini 约定以 user 角色回传）。
type Message struct {
	Role        Role               `json:"role"`
	Text        string             `json:"text,omitempty"`
	ToolCalls   []sandbox.ToolCall `json:"tool_calls,omitempty"`
	ToolReplies []ToolReply        `json:"tool_replies,omitempty"`
}

// Request 一次模型调用
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []sandbox.ToolSpec
}

// Turn 模型返回的一轮内容
type Turn struct {
	Text      string
	ToolCalls []sandbox.ToolCall
}

// Provider LLM 提供方
type Provider interface {
	// Name 提供方标识
	Name() string
	// Generate 发送完整对话并取回一轮回复
	Generate(ctx context.Context, req Request) (*Turn, error)
}

// ============================================================================
// 错误分类
// ============================================================================

// ErrAuth 认证/授权失败，重试无意义
var ErrAuth = errors.New("model provider authentication failed")

// ErrQuota 配额耗尽，重试无意义
var ErrQuota = errors.New("model provider quota exhausted")

// IsPermanent 判断模型调用错误是否为不可恢复错误
//
// 不可恢复错误导致任务立即失败；其余错误折叠进对话上下文
// 让模型重试。
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuota)
}
