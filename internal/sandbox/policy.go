// Package sandbox 工作空间沙箱
//
// 每个生成 Job 独占一个工作空间目录，模型请求的文件/命令/安装操作
// 都经过边界校验和安全策略后在其中执行。
//
// 信任边界说明：沙箱只做文件路径包含性校验和命令文本过滤，
// 不是操作系统级隔离（无容器/chroot/用户命名空间）。
package sandbox

import (
	"strings"
	"time"
)

// Policy 沙箱安全策略（不可变值对象，构造后注入，不是全局可变状态）
type Policy struct {
	// ForbiddenPatterns 命令黑名单子串：命中任一子串的命令直接拒绝，不起进程
	ForbiddenPatterns []string

	// AllowedCommands 命令白名单前缀：非空时，命令首个 token 必须
	// 以其中某个前缀开头
	AllowedCommands []string

	// AllowSystemInstall 是否允许系统包安装（默认关闭）
	AllowSystemInstall bool

	// AllowPipInstall 是否允许 pip 包安装（默认关闭）
	AllowPipInstall bool

	// AllowedSystemPackages 系统包白名单（空 = 只做字符集校验）
	AllowedSystemPackages []string

	// AllowedPipPackages pip 包白名单（按包名匹配，忽略版本约束）
	AllowedPipPackages []string

	// DefaultManager 默认包管理器（空 = 按固定优先顺序探测）
	DefaultManager string

	// DryRun 全局 dry-run：安装操作只返回命令计划，不执行
	DryRun bool

	// CreateVenv 是否为工作空间创建虚拟环境（pip 安装时）
	CreateVenv bool

	// PipTimeout pip 安装超时
	PipTimeout time.Duration

	// InputWait 人工输入等待上限（request_user_input 工具）
	InputWait time.Duration
}

// DefaultPolicy 默认安全策略
func DefaultPolicy() Policy {
	return Policy{
		ForbiddenPatterns: []string{
			"sudo",
			"rm -rf /",
			"mkfs",
			"shutdown",
			"reboot",
			":(){",
			"> /dev/sd",
			"dd if=/dev/zero of=/dev/",
		},
		AllowSystemInstall: false,
		AllowPipInstall:    false,
		PipTimeout:         10 * time.Minute,
		InputWait:          5 * time.Minute,
	}
}

// hasForbidden 返回命令命中的第一个黑名单子串（未命中返回空串）
func (p Policy) hasForbidden(command string) string {
	for _, pattern := range p.ForbiddenPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(command, pattern) {
			return pattern
		}
	}
	return ""
}

// commandAllowed 白名单校验：首个 token 必须以某个允许前缀开头
func (p Policy) commandAllowed(firstToken string) bool {
	if len(p.AllowedCommands) == 0 {
		return true
	}
	for _, prefix := range p.AllowedCommands {
		if prefix != "" && strings.HasPrefix(firstToken, prefix) {
			return true
		}
	}
	return false
}

// systemPackageAllowed 系统包白名单校验
func (p Policy) systemPackageAllowed(pkg string) bool {
	if len(p.AllowedSystemPackages) == 0 {
		return true
	}
	for _, allowed := range p.AllowedSystemPackages {
		if pkg == allowed {
			return true
		}
	}
	return false
}

// pipPackageAllowed pip 包白名单校验（忽略版本约束部分）
func (p Policy) pipPackageAllowed(specifier string) bool {
	if len(p.AllowedPipPackages) == 0 {
		return true
	}
	name := specifierName(specifier)
	for _, allowed := range p.AllowedPipPackages {
		if strings.EqualFold(name, allowed) {
			return true
		}
	}
	return false
}
