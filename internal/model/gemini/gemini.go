// Package gemini 基于 Google Gen AI SDK 的模型提供方实现
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"ctf-forge/internal/model"
	"ctf-forge/internal/sandbox"
)

// Provider 通过 google.golang.org/genai 调用 Gemini
type Provider struct {
	client *genai.Client
}

var _ model.Provider = (*Provider)(nil)

// New 创建 Gemini 提供方
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name 提供方标识
func (p *Provider) Name() string { return "gemini" }

// Generate 发送完整对话并取回一轮回复
func (p *Provider) Generate(ctx context.Context, req model.Request) (*model.Turn, error) {
	config := &genai.GenerateContentConfig{
		Tools: buildToolDeclarations(req.Tools),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	contents := buildContents(req.Messages)

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classifyError(err)
	}

	return parseResponse(resp), nil
}

// buildContents 把对话消息转换为 genai.Content 序列
func buildContents(messages []model.Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var parts []*genai.Part

		if msg.Text != "" {
			parts = append(parts, &genai.Part{Text: msg.Text})
		}
		for _, call := range msg.ToolCalls {
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				},
			})
		}
		// 工具结果按 Gemini 约定由 user 角色回传
		for _, reply := range msg.ToolReplies {
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:   reply.CallID,
					Name: reply.Name,
					Response: map[string]any{
						"result": reply.Content,
					},
				},
			})
		}

		if len(parts) == 0 {
			continue
		}

		role := genai.RoleUser
		if msg.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: parts,
		})
	}

	return contents
}

// buildToolDeclarations 把沙箱工具声明转换为 Gemini 函数声明
func buildToolDeclarations(specs []sandbox.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		properties := map[string]*genai.Schema{}
		for name, raw := range spec.Parameters {
			properties[name] = convertSchema(raw)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   spec.Required,
			},
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema 把 JSON Schema 形式的参数描述转换为 genai.Schema
func convertSchema(raw interface{}) *genai.Schema {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return &genai.Schema{Type: genai.TypeString}
	}

	schema := &genai.Schema{}
	switch m["type"] {
	case "string":
		schema.Type = genai.TypeString
	case "integer":
		schema.Type = genai.TypeInteger
	case "number":
		schema.Type = genai.TypeNumber
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		schema.Items = convertSchema(m["items"])
	case "object":
		schema.Type = genai.TypeObject
	default:
		schema.Type = genai.TypeString
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	return schema
}

// parseResponse 提取模型回复中的文本和工具调用
func parseResponse(resp *genai.GenerateContentResponse) *model.Turn {
	turn := &model.Turn{}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				turn.Text += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				turn.ToolCalls = append(turn.ToolCalls, sandbox.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}

	return turn
}

// classifyError 把 SDK 错误映射为统一错误分类
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("%w: %s", model.ErrAuth, apiErr.Message)
		case 429:
			return fmt.Errorf("%w: %s", model.ErrQuota, apiErr.Message)
		}
	}
	return fmt.Errorf("model call failed: %w", err)
}
