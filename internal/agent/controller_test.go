package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctf-forge/internal/model"
	"ctf-forge/internal/sandbox"
)

// scriptedProvider 按脚本逐轮返回回复的假提供方
type scriptedProvider struct {
	turns    []*model.Turn
	errs     []error
	calls    int
	requests []model.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req model.Request) (*model.Turn, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.turns) {
		return p.turns[i], nil
	}
	return &model.Turn{Text: "nothing left to do"}, nil
}

func newTestController(t *testing.T, provider model.Provider, maxIterations int) (*Controller, *sandbox.Sandbox, *[]string) {
	t.Helper()
	sb, err := sandbox.New(t.TempDir(), "job-test", sandbox.DefaultPolicy())
	require.NoError(t, err)

	var events []string
	emit := func(eventType string, payload map[string]interface{}) {
		events = append(events, eventType)
	}

	ctrl := NewController(provider, sb, Options{
		Model:         "test-model",
		MaxIterations: maxIterations,
		SystemPrompt:  "you build ctf challenges",
		UserPrompt:    "build a web challenge",
	}, emit, nil)
	return ctrl, sb, &events
}

func TestRun_CompletesOnPhrase(t *testing.T) {
	provider := &scriptedProvider{
		turns: []*model.Turn{
			{Text: "writing files", ToolCalls: []sandbox.ToolCall{{
				ID:        "c1",
				Name:      string(sandbox.ToolWriteFile),
				Arguments: map[string]interface{}{"path": "flag.txt", "content": "flag{abc}"},
			}}},
			{Text: "The challenge is complete."},
		},
	}
	ctrl, _, events := newTestController(t, provider, 10)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 2, provider.calls)

	// 事件顺序：iteration → tool_call/tool_result → iteration → assistant_message
	assert.Contains(t, *events, "tool_call")
	assert.Contains(t, *events, "tool_result")
}

func TestRun_BudgetExhausted(t *testing.T) {
	provider := &scriptedProvider{} // 永远不宣告完成
	ctrl, _, _ := newTestController(t, provider, 4)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, status)
	assert.Equal(t, 4, provider.calls)
}

func TestRun_ToolResultsFlowBack(t *testing.T) {
	provider := &scriptedProvider{
		turns: []*model.Turn{
			{ToolCalls: []sandbox.ToolCall{{
				ID:        "c1",
				Name:      string(sandbox.ToolWriteFile),
				Arguments: map[string]interface{}{"path": "x.txt", "content": "hello"},
			}}},
			{Text: "verification successful"},
		},
	}
	ctrl, _, _ := newTestController(t, provider, 10)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	// 第二次调用必须带上工具结果回合
	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, model.RoleUser, last.Role)
	require.Len(t, last.ToolReplies, 1)
	assert.Equal(t, "c1", last.ToolReplies[0].CallID)
	assert.Contains(t, last.ToolReplies[0].Content, `"path":"x.txt"`)
}

func TestRun_ToolErrorDoesNotAbort(t *testing.T) {
	provider := &scriptedProvider{
		turns: []*model.Turn{
			{ToolCalls: []sandbox.ToolCall{{
				ID:        "c1",
				Name:      string(sandbox.ToolReadFile),
				Arguments: map[string]interface{}{"path": "../escape.txt"},
			}}},
			{Text: "final summary: could not read the file"},
		},
	}
	ctrl, _, _ := newTestController(t, provider, 10)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	second := provider.requests[1].Messages
	last := second[len(second)-1]
	require.Len(t, last.ToolReplies, 1)
	assert.Contains(t, last.ToolReplies[0].Content, "path escapes workspace")
}

func TestRun_TransientErrorsFolded(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{errors.New("connection reset"), nil},
		turns: []*model.Turn{
			nil,
			{Text: "challenge is complete"},
		},
	}
	ctrl, _, _ := newTestController(t, provider, 10)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	// 失败折叠为合成 user 回合
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, model.RoleUser, last.Role)
	assert.Contains(t, last.Text, "previous model call failed")
}

func TestRun_ConsecutiveFailuresAbort(t *testing.T) {
	transient := errors.New("upstream timeout")
	provider := &scriptedProvider{
		errs: []error{transient, transient, transient},
	}
	ctrl, _, _ := newTestController(t, provider, 10)

	_, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 times in a row")
	assert.Equal(t, 3, provider.calls)
}

func TestRun_PermanentErrorAbortsImmediately(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{model.ErrAuth},
	}
	ctrl, _, _ := newTestController(t, provider, 10)

	_, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAuth))
	assert.Equal(t, 1, provider.calls)
}

func TestRun_NudgeNearBudget(t *testing.T) {
	provider := &scriptedProvider{
		turns: []*model.Turn{
			{Text: "thinking out loud"},
		},
	}
	ctrl, _, _ := newTestController(t, provider, 2)

	status, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, status)

	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Contains(t, last.Text, "almost out of iterations")
}

func TestIsComplete(t *testing.T) {
	assert.True(t, isComplete("The Challenge Is Complete, see README"))
	assert.True(t, isComplete("Here is my FINAL SUMMARY:"))
	assert.True(t, isComplete("verification successful on all solve paths"))
	assert.False(t, isComplete("still working on the checker"))
	assert.False(t, isComplete(""))
}
