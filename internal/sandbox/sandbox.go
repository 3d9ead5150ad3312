// Package sandbox 沙箱核心结构与路径包含性校验
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sandbox 绑定到单个工作空间目录的沙箱
type Sandbox struct {
	root   string // 工作空间根目录（绝对路径）
	jobID  string // 所属 Job
	policy Policy // 安全策略（构造后不再变化）

	// inputRequester 人工输入请求器（可选，由 jobs 层注入）
	inputRequester InputRequester
}

// New 创建沙箱，确保工作空间根目录存在
func New(root, jobID string, policy Policy) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	if policy.PipTimeout <= 0 {
		policy.PipTimeout = 10 * time.Minute
	}
	if policy.InputWait <= 0 {
		policy.InputWait = 5 * time.Minute
	}

	return &Sandbox{
		root:   abs,
		jobID:  jobID,
		policy: policy,
	}, nil
}

// Root 返回工作空间根目录
func (s *Sandbox) Root() string {
	return s.root
}

// JobID 返回所属 Job ID
func (s *Sandbox) JobID() string {
	return s.jobID
}

// SetInputRequester 注入人工输入请求器（request_user_input 工具依赖）
func (s *Sandbox) SetInputRequester(r InputRequester) {
	s.inputRequester = r
}

// resolvePath 将模型给出的路径解析到工作空间内部
//
// 不变量：任何逃出根目录的解析结果在做任何 I/O 之前被拒绝。
func (s *Sandbox) resolvePath(path string) (string, error) {
	if path == "" {
		path = "."
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(s.root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return candidate, nil
}

// relPath 把绝对路径转回工作空间相对路径（用于返回值展示）
func (s *Sandbox) relPath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// venvBinDir 返回工作空间虚拟环境的可执行目录（不存在返回空串）
func (s *Sandbox) venvBinDir() string {
	bin := filepath.Join(s.root, ".venv", "bin")
	if info, err := os.Stat(bin); err == nil && info.IsDir() {
		return bin
	}
	return ""
}

// specifierName 从 pip 包说明符取出包名（去掉版本约束和 extras）
func specifierName(specifier string) string {
	name := specifier
	if i := strings.IndexAny(name, "[=<>!~ "); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}
