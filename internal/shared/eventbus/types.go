// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// StreamEvent 生成任务进度事件（Controller → 观察者方向）
type StreamEvent struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// ControlMessage 控制消息（观察者 → Controller 反方向）
//
// 与 StreamEvent 形状相同，用于人在环路场景：
// 外部响应者通过控制通道回应 Controller 挂起的请求。
type ControlMessage struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// CorrelationID 从控制消息中取出关联 ID（无则返回空串）
func (m *ControlMessage) CorrelationID() string {
	if m == nil || m.Payload == nil {
		return ""
	}
	if v, ok := m.Payload["correlation_id"].(string); ok {
		return v
	}
	return ""
}

// ============================================================================
// 事件类型常量
// ============================================================================

const (
	EventJobStarted         = "job_started"
	EventIteration          = "iteration"
	EventToolCall           = "tool_call"
	EventToolResult         = "tool_result"
	EventAssistantMessage   = "assistant_message"
	EventUserInputRequested = "user_input_requested"
	EventJobCompleted       = "job_completed"
	EventJobFailed          = "job_failed"

	ControlUserInput = "user_input"
)

// IsTerminal 判断事件是否为终止事件
func IsTerminal(eventType string) bool {
	return eventType == EventJobCompleted || eventType == EventJobFailed
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyJobEvents  = "job_events:"
	KeyJobControl = "job_control:"

	// Stream 最大长度
	MaxStreamLength = 1000
)
