// Package sandbox shell 命令执行
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// shellTimeout shell 命令硬超时
	shellTimeout = 5 * time.Minute

	// outputLimit stdout/stderr 各自的截断上限（字符数）
	outputLimit = 10000
)

// ExecuteShell 在工作空间内执行 shell 命令
//
// 安全过滤在起进程之前完成：
//  1. 命中黑名单子串 → 直接拒绝
//  2. 配置了白名单时首个 token 前缀不匹配 → 直接拒绝
//
// 工作目录解析（必要时创建）在根目录内部；存在虚拟环境时其
// 可执行目录被前置到 PATH。超时返回结构化错误而不是崩溃。
func (s *Sandbox) ExecuteShell(ctx context.Context, command, workingDir string) ToolResult {
	if strings.TrimSpace(command) == "" {
		return errResult("command is empty")
	}

	if pattern := s.policy.hasForbidden(command); pattern != "" {
		return errResult("Command contains forbidden pattern: %s", pattern)
	}

	fields := strings.Fields(command)
	if !s.policy.commandAllowed(fields[0]) {
		return errResult("Command not in allow-list: %s", fields[0])
	}

	dir := s.root
	if workingDir != "" {
		abs, err := s.resolvePath(workingDir)
		if err != nil {
			return errResult("%v", err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return errResult("create working directory: %v", err)
		}
		dir = abs
	}

	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = s.commandEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() != nil {
		// 任务整体时限先到期与 shell 自身超时分开报告
		if ctx.Err() != nil {
			return errResult("Command aborted: %v", ctx.Err())
		}
		return errResult("Command timed out after %d seconds", int(shellTimeout.Seconds()))
	}

	returncode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			returncode = exitErr.ExitCode()
		} else {
			return errResult("execute command: %v", err)
		}
	}

	return okResult(map[string]interface{}{
		"returncode":  returncode,
		"stdout":      truncateOutput(stdout.String()),
		"stderr":      truncateOutput(stderr.String()),
		"working_dir": s.relPath(dir),
	})
}

// commandEnv 构造命令环境：虚拟环境存在时前置其 bin 目录
func (s *Sandbox) commandEnv() []string {
	env := os.Environ()
	bin := s.venvBinDir()
	if bin == "" {
		return env
	}

	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + bin + string(os.PathListSeparator) + kv[len("PATH="):]
			return env
		}
	}
	return append(env, "PATH="+bin)
}

// truncateOutput 截断过长的命令输出
func truncateOutput(out string) string {
	if len(out) <= outputLimit {
		return out
	}
	return out[:outputLimit] + fmt.Sprintf("\n... [output truncated at %d characters]", outputLimit)
}
