// Package sandbox 工具调用的分发与结果封装
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// ============================================================================
// 工具调用与结果
// ============================================================================

// ToolCall 模型发起的一次工具调用
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult 工具执行结果：成功时 Data 有值，失败时 Err 非空
type ToolResult struct {
	Data map[string]interface{} `json:"data,omitempty"`
	Err  string                 `json:"error,omitempty"`
}

// IsError 是否为失败结果
func (r ToolResult) IsError() bool {
	return r.Err != ""
}

// JSON 序列化为回传给模型的字符串
func (r ToolResult) JSON() string {
	if r.IsError() {
		b, _ := json.Marshal(map[string]interface{}{"error": r.Err})
		return string(b)
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf(`{"error":"marshal tool result: %v"}`, err)
	}
	return string(b)
}

func okResult(data map[string]interface{}) ToolResult {
	return ToolResult{Data: data}
}

func errResult(format string, args ...interface{}) ToolResult {
	return ToolResult{Err: fmt.Sprintf(format, args...)}
}

// ============================================================================
// 工具种类
// ============================================================================

// ToolKind 沙箱提供的工具种类（封闭集合）
type ToolKind string

const (
	ToolWriteFile             ToolKind = "write_file"
	ToolReadFile              ToolKind = "read_file"
	ToolListFiles             ToolKind = "list_files"
	ToolExecuteShell          ToolKind = "execute_shell"
	ToolInstallSystemPackages ToolKind = "install_system_packages"
	ToolInstallPipPackages    ToolKind = "install_pip_packages"
	ToolRequestUserInput      ToolKind = "request_user_input"
)

// AllTools 按声明顺序列出全部工具
func AllTools() []ToolKind {
	return []ToolKind{
		ToolWriteFile,
		ToolReadFile,
		ToolListFiles,
		ToolExecuteShell,
		ToolInstallSystemPackages,
		ToolInstallPipPackages,
		ToolRequestUserInput,
	}
}

// ParseToolKind 解析工具名称，未知名称报错
func ParseToolKind(name string) (ToolKind, error) {
	for _, k := range AllTools() {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

// ============================================================================
// 分发
// ============================================================================

// Dispatch 执行一次工具调用并返回结果
//
// 单个工具的 panic 被捕获并折叠为错误结果，不会中断整个任务。
func (s *Sandbox) Dispatch(ctx context.Context, call ToolCall) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Sandbox] Tool %s panicked: %v", call.Name, r)
			result = errResult("tool %s panicked: %v", call.Name, r)
		}
	}()

	kind, err := ParseToolKind(call.Name)
	if err != nil {
		return errResult("%v", err)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	switch kind {
	case ToolWriteFile:
		path := getStringArg(args, "path", "")
		if path == "" {
			return errResult("write_file requires a path")
		}
		return s.WriteFile(path, getStringArg(args, "content", ""))

	case ToolReadFile:
		path := getStringArg(args, "path", "")
		if path == "" {
			return errResult("read_file requires a path")
		}
		return s.ReadFile(path, getIntArg(args, "max_lines", 0))

	case ToolListFiles:
		return s.ListFiles(getStringArg(args, "path", "."), getBoolArg(args, "recursive", false))

	case ToolExecuteShell:
		command := getStringArg(args, "command", "")
		if command == "" {
			return errResult("execute_shell requires a command")
		}
		return s.ExecuteShell(ctx, command, getStringArg(args, "working_dir", ""))

	case ToolInstallSystemPackages:
		return s.InstallSystemPackages(ctx, SystemInstallOptions{
			Packages:    getStringSliceArg(args, "packages"),
			Manager:     getStringArg(args, "manager", ""),
			UpdateIndex: getBoolArg(args, "update_index", true),
			AssumeYes:   getBoolArg(args, "assume_yes", true),
			ExtraFlags:  getStringSliceArg(args, "extra_flags"),
			DryRun:      getBoolArg(args, "dry_run", false),
		})

	case ToolInstallPipPackages:
		opts := PipInstallOptions{
			Packages:         getStringSliceArg(args, "packages"),
			RequirementsFile: getStringArg(args, "requirements_file", ""),
			Upgrade:          getBoolArg(args, "upgrade", false),
			IndexURL:         getStringArg(args, "index_url", ""),
			ExtraIndexURLs:   getStringSliceArg(args, "extra_index_urls"),
			Editable:         getBoolArg(args, "editable", false),
			WorkingDir:       getStringArg(args, "working_dir", ""),
			DryRun:           getBoolArg(args, "dry_run", false),
		}
		if v, ok := args["create_venv"].(bool); ok {
			opts.CreateVenv = &v
		}
		return s.InstallPipPackages(ctx, opts)

	case ToolRequestUserInput:
		prompt := getStringArg(args, "prompt", "")
		if prompt == "" {
			return errResult("request_user_input requires a prompt")
		}
		return s.RequestUserInput(ctx, prompt)
	}

	return errResult("unhandled tool: %s", call.Name)
}

// ============================================================================
// 参数提取辅助函数
// ============================================================================

func getStringArg(args map[string]interface{}, key, defaultValue string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultValue
}

func getIntArg(args map[string]interface{}, key string, defaultValue int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultValue
}

func getBoolArg(args map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}

func getStringSliceArg(args map[string]interface{}, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
