// Package sandbox pip 包安装（工作空间虚拟环境内）
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// pipSpecifierPattern 合法 pip 规格字符集：包名 + 可选 extras + 可选版本约束。
// 首字符必须为字母或数字，选项形态的 token（-r、--index-url 等）一律拒绝。
var pipSpecifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._-]*(\[[A-Za-z0-9,._ -]*\])?((==|>=|<=|!=|~=|<|>)[A-Za-z0-9*+.!-]+(,(==|>=|<=|!=|~=|<|>)[A-Za-z0-9*+.!-]+)*)?$`)

// PipInstallOptions install_pip_packages 调用参数
type PipInstallOptions struct {
	// Packages 与 RequirementsFile 必须恰好提供一个
	Packages         []string
	RequirementsFile string

	Upgrade bool

	// IndexURL / ExtraIndexURLs 镜像源，仅接受 http(s) 地址
	IndexURL       string
	ExtraIndexURLs []string

	// Editable 可编辑模式：Packages 视为工作空间内路径而非 PyPI 规格
	Editable bool

	// CreateVenv 非 nil 时覆盖策略里的 CreateVenv
	CreateVenv *bool

	// WorkingDir 安装命令的工作目录（工作空间内相对路径）
	WorkingDir string

	DryRun bool
}

// InstallPipPackages 在工作空间虚拟环境中安装 Python 包
//
// 虚拟环境在 dry-run 判断之前创建：计划命令必须引用真实存在的
// 解释器路径，操作者才能照着执行。
func (s *Sandbox) InstallPipPackages(ctx context.Context, opts PipInstallOptions) ToolResult {
	if !s.policy.AllowPipInstall {
		return errResult("pip package installation is disabled by policy")
	}

	hasPackages := len(opts.Packages) > 0
	hasRequirements := opts.RequirementsFile != ""
	if hasPackages == hasRequirements {
		return errResult("specify exactly one of packages or requirements_file")
	}

	var reqAbs string
	if hasRequirements {
		abs, err := s.resolvePath(opts.RequirementsFile)
		if err != nil {
			return errResult("%v", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return errResult("requirements file not found: %s", opts.RequirementsFile)
		}
		reqAbs = abs
	}

	var targets []string
	if opts.Editable {
		// 可编辑安装的目标是工作空间内路径，走路径包含性校验
		for _, target := range opts.Packages {
			abs, err := s.resolvePath(target)
			if err != nil {
				return errResult("%v", err)
			}
			targets = append(targets, abs)
		}
	} else {
		for _, spec := range opts.Packages {
			if !pipSpecifierPattern.MatchString(spec) {
				return errResult("invalid pip specifier: %s", spec)
			}
			if !s.policy.pipPackageAllowed(spec) {
				return errResult("pip package not in allow-list: %s", specifierName(spec))
			}
		}
		targets = opts.Packages
	}

	indexFlags, err := indexURLFlags(opts.IndexURL, opts.ExtraIndexURLs)
	if err != nil {
		return errResult("%v", err)
	}

	createVenv := s.policy.CreateVenv
	if opts.CreateVenv != nil {
		createVenv = *opts.CreateVenv
	}
	python, err := s.ensureVenv(ctx, createVenv)
	if err != nil {
		return errResult("%v", err)
	}

	dir := s.root
	if opts.WorkingDir != "" {
		abs, err := s.resolvePath(opts.WorkingDir)
		if err != nil {
			return errResult("%v", err)
		}
		dir = abs
	}

	argv := []string{python, "-m", "pip", "install"}
	if opts.Upgrade {
		argv = append(argv, "--upgrade")
	}
	argv = append(argv, indexFlags...)
	switch {
	case hasRequirements:
		argv = append(argv, "-r", reqAbs)
	case opts.Editable:
		for _, target := range targets {
			argv = append(argv, "-e", target)
		}
	default:
		argv = append(argv, targets...)
	}

	if opts.DryRun || s.policy.DryRun {
		return okResult(map[string]interface{}{
			"dry_run": true,
			"command": strings.Join(argv, " "),
		})
	}

	log.Printf("[Sandbox] Job %s installing pip packages: %v", s.jobID, opts.Packages)

	runCtx, cancel := context.WithTimeout(ctx, s.policy.PipTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = s.commandEnv()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return errResult("pip install timed out after %s", s.policy.PipTimeout)
		}
		return errResult("pip install failed: %v\n%s", err, truncateOutput(buf.String()))
	}

	return okResult(map[string]interface{}{
		"command": strings.Join(argv, " "),
		"output":  truncateOutput(buf.String()),
	})
}

// indexURLFlags 校验并编排镜像源参数
func indexURLFlags(indexURL string, extraIndexURLs []string) ([]string, error) {
	var flags []string
	if indexURL != "" {
		if err := validateIndexURL(indexURL); err != nil {
			return nil, err
		}
		flags = append(flags, "--index-url", indexURL)
	}
	for _, u := range extraIndexURLs {
		if err := validateIndexURL(u); err != nil {
			return nil, err
		}
		flags = append(flags, "--extra-index-url", u)
	}
	return flags, nil
}

func validateIndexURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid index url: %s", raw)
	}
	return nil
}

// ensureVenv 保证工作空间虚拟环境存在，返回其 python 解释器路径
func (s *Sandbox) ensureVenv(ctx context.Context, createVenv bool) (string, error) {
	venvDir := filepath.Join(s.root, ".venv")
	python := filepath.Join(venvDir, "bin", "python")

	if _, err := os.Stat(python); err == nil {
		return python, nil
	}

	if !createVenv {
		// 无虚拟环境时退回系统解释器
		for _, candidate := range []string{"python3", "python"} {
			if path, err := exec.LookPath(candidate); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("no python interpreter found on host")
	}

	base, err := exec.LookPath("python3")
	if err != nil {
		if base, err = exec.LookPath("python"); err != nil {
			return "", fmt.Errorf("no python interpreter found to create venv")
		}
	}

	cmd := exec.CommandContext(ctx, base, "-m", "venv", venvDir)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("create venv: %v\n%s", err, truncateOutput(buf.String()))
	}

	log.Printf("[Sandbox] Job %s created venv at %s", s.jobID, venvDir)
	return python, nil
}
