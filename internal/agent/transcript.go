// Package agent 生成循环控制器与结果提取
package agent

import (
	"ctf-forge/internal/model"
	"ctf-forge/internal/sandbox"
)

// Transcript 对话记录
//
// 不变量：助手消息带工具调用时，下一条消息必须是携带对应
// 工具结果的 user 消息，然后才能再次调用模型。
type Transcript struct {
	messages []model.Message
}

// NewTranscript 以初始用户指令创建对话记录
func NewTranscript(userPrompt string) *Transcript {
	t := &Transcript{}
	t.AddUser(userPrompt)
	return t
}

// Messages 返回全部消息（调用方不得修改）
func (t *Transcript) Messages() []model.Message {
	return t.messages
}

// Len 消息条数
func (t *Transcript) Len() int {
	return len(t.messages)
}

// AddUser 追加用户消息
func (t *Transcript) AddUser(text string) {
	t.messages = append(t.messages, model.Message{
		Role: model.RoleUser,
		Text: text,
	})
}

// AddAssistant 追加助手回合（文本 + 工具调用）
func (t *Transcript) AddAssistant(turn *model.Turn) {
	t.messages = append(t.messages, model.Message{
		Role:      model.RoleAssistant,
		Text:      turn.Text,
		ToolCalls: turn.ToolCalls,
	})
}

// AddToolReplies 追加工具结果回合（Gemini 约定的 user 角色）
func (t *Transcript) AddToolReplies(replies []model.ToolReply) {
	if len(replies) == 0 {
		return
	}
	t.messages = append(t.messages, model.Message{
		Role:        model.RoleUser,
		ToolReplies: replies,
	})
}

// AssistantTexts 按顺序返回全部助手文本（跳过空文本回合）
func (t *Transcript) AssistantTexts() []string {
	var texts []string
	for _, msg := range t.messages {
		if msg.Role == model.RoleAssistant && msg.Text != "" {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

// Tail 返回最后 n 条助手文本
func (t *Transcript) Tail(n int) []string {
	texts := t.AssistantTexts()
	if len(texts) <= n {
		return texts
	}
	return texts[len(texts)-n:]
}

// replyFor 把工具结果包装为回传消息
func replyFor(call sandbox.ToolCall, result sandbox.ToolResult) model.ToolReply {
	return model.ToolReply{
		CallID:  call.ID,
		Name:    call.Name,
		Content: result.JSON(),
	}
}
