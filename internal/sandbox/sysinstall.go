// Package sandbox 系统包安装
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// packageNamePattern 合法系统包名字符集
var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._-]*$`)

// extraFlagPattern 合法安装命令附加选项：必须以 - 开头
var extraFlagPattern = regexp.MustCompile(`^--?[A-Za-z0-9][A-Za-z0-9=:,./+_-]*$`)

// managerProbeOrder 包管理器探测优先顺序
var managerProbeOrder = []string{"apt-get", "apt", "dnf", "yum", "apk", "pacman", "zypper"}

// SystemInstallOptions install_system_packages 调用参数
type SystemInstallOptions struct {
	Packages []string

	// Manager 单次调用的包管理器覆盖，优先于策略默认值
	Manager string

	// UpdateIndex 安装前是否刷新包索引（有对应命令的管理器才生效）
	UpdateIndex bool

	// AssumeYes 是否附加免确认选项
	AssumeYes bool

	// ExtraFlags 追加到安装命令的附加选项
	ExtraFlags []string

	DryRun bool
}

// installCommands 各包管理器的更新 + 安装命令模板
//
// 返回 (更新命令, 安装命令前缀)；安装命令末尾追加包名列表。
func installCommands(manager string, assumeYes bool) ([]string, []string, error) {
	switch manager {
	case "apt-get", "apt":
		install := []string{manager, "install"}
		if assumeYes {
			install = append(install, "-y")
		}
		return []string{manager, "update"}, install, nil
	case "dnf", "yum":
		install := []string{manager, "install"}
		if assumeYes {
			install = append(install, "-y")
		}
		return nil, install, nil
	case "apk":
		return []string{"apk", "update"}, []string{"apk", "add"}, nil
	case "pacman":
		install := []string{"pacman", "-S"}
		if assumeYes {
			install = append(install, "--noconfirm")
		}
		return nil, install, nil
	case "zypper":
		install := []string{"zypper"}
		if assumeYes {
			install = append(install, "--non-interactive")
		}
		return nil, append(install, "install"), nil
	}
	return nil, nil, fmt.Errorf("unsupported package manager: %s", manager)
}

// resolveManager 确定要使用的包管理器：调用覆盖 → 策略默认 → 固定顺序探测
func (s *Sandbox) resolveManager(override string) (string, error) {
	if override != "" {
		if _, _, err := installCommands(override, true); err != nil {
			return "", err
		}
		if _, err := exec.LookPath(override); err != nil {
			return "", fmt.Errorf("requested package manager not found: %s", override)
		}
		return override, nil
	}
	if s.policy.DefaultManager != "" {
		if _, err := exec.LookPath(s.policy.DefaultManager); err != nil {
			return "", fmt.Errorf("configured package manager not found: %s", s.policy.DefaultManager)
		}
		return s.policy.DefaultManager, nil
	}
	for _, manager := range managerProbeOrder {
		if _, err := exec.LookPath(manager); err == nil {
			return manager, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found on host")
}

// InstallSystemPackages 通过宿主包管理器安装系统包
//
// 校验顺序：策略开关 → 包名字符集 → 白名单 → 附加选项 → 管理器探测。
// dry-run（调用参数或全局策略任一开启）只返回命令计划。
// 实际执行按 更新→安装 顺序，首个失败即停止。
func (s *Sandbox) InstallSystemPackages(ctx context.Context, opts SystemInstallOptions) ToolResult {
	if !s.policy.AllowSystemInstall {
		return errResult("system package installation is disabled by policy")
	}
	if len(opts.Packages) == 0 {
		return errResult("no packages specified")
	}

	for _, pkg := range opts.Packages {
		if !packageNamePattern.MatchString(pkg) {
			return errResult("invalid package name: %s", pkg)
		}
		if !s.policy.systemPackageAllowed(pkg) {
			return errResult("package not in allow-list: %s", pkg)
		}
	}

	for _, flag := range opts.ExtraFlags {
		if !extraFlagPattern.MatchString(flag) {
			return errResult("invalid extra flag: %s", flag)
		}
	}

	manager, err := s.resolveManager(opts.Manager)
	if err != nil {
		return errResult("%v", err)
	}

	updateCmd, installPrefix, err := installCommands(manager, opts.AssumeYes)
	if err != nil {
		return errResult("%v", err)
	}
	installCmd := append(append([]string{}, installPrefix...), opts.ExtraFlags...)
	installCmd = append(installCmd, opts.Packages...)

	plan := [][]string{}
	if opts.UpdateIndex && updateCmd != nil {
		plan = append(plan, updateCmd)
	}
	plan = append(plan, installCmd)

	if opts.DryRun || s.policy.DryRun {
		planned := make([]string, 0, len(plan))
		for _, cmd := range plan {
			planned = append(planned, strings.Join(cmd, " "))
		}
		return okResult(map[string]interface{}{
			"dry_run":  true,
			"manager":  manager,
			"commands": planned,
			"packages": opts.Packages,
		})
	}

	log.Printf("[Sandbox] Job %s installing system packages via %s: %v", s.jobID, manager, opts.Packages)

	executed := []string{}
	for _, cmd := range plan {
		output, err := runInstallCommand(ctx, cmd)
		executed = append(executed, strings.Join(cmd, " "))
		if err != nil {
			return errResult("command %q failed: %v\n%s", strings.Join(cmd, " "), err, truncateOutput(output))
		}
	}

	return okResult(map[string]interface{}{
		"manager":  manager,
		"commands": executed,
		"packages": opts.Packages,
	})
}

// runInstallCommand 执行一条安装命令，返回合并输出
func runInstallCommand(ctx context.Context, argv []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
