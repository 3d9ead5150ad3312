package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pythonAvailable() bool {
	for _, candidate := range []string{"python3", "python"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return true
		}
	}
	return false
}

func newTestSandbox(t *testing.T, policy Policy) *Sandbox {
	t.Helper()
	s, err := New(t.TempDir(), "job-test", policy)
	require.NoError(t, err)
	return s
}

// ============================================================================
// 路径包含性
// ============================================================================

func TestResolvePath_Containment(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	// 正常相对路径
	abs, err := s.resolvePath("sub/dir/file.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(abs, s.Root()))

	// 逃逸路径一律拒绝
	escapes := []string{
		"../outside.txt",
		"../../etc/passwd",
		"sub/../../outside",
		"/etc/passwd",
	}
	for _, path := range escapes {
		_, err := s.resolvePath(path)
		assert.Error(t, err, "path %q should be rejected", path)
		assert.Contains(t, err.Error(), "path escapes workspace")
	}
}

func TestResolvePath_DotAndEmpty(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	abs, err := s.resolvePath(".")
	require.NoError(t, err)
	assert.Equal(t, s.Root(), abs)

	abs, err = s.resolvePath("")
	require.NoError(t, err)
	assert.Equal(t, s.Root(), abs)
}

// ============================================================================
// 文件操作
// ============================================================================

func TestWriteFile_CreatesParentAndReportsSize(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.WriteFile("challenge/flag.txt", "flag{test}")
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "challenge/flag.txt", result.Data["path"])
	assert.Equal(t, 10, result.Data["size"])

	content, err := os.ReadFile(filepath.Join(s.Root(), "challenge", "flag.txt"))
	require.NoError(t, err)
	assert.Equal(t, "flag{test}", string(content))
}

func TestWriteFile_ScriptsAreExecutable(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.WriteFile("run.sh", "echo hi\n")
	require.False(t, result.IsError(), result.Err)

	info, err := os.Stat(filepath.Join(s.Root(), "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111, "script should have exec bit")

	// shebang 文件同样可执行
	result = s.WriteFile("tool", "#!/usr/bin/env python3\nprint('x')\n")
	require.False(t, result.IsError(), result.Err)
	info, err = os.Stat(filepath.Join(s.Root(), "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111)

	// 普通文本文件不可执行
	result = s.WriteFile("notes.txt", "plain text")
	require.False(t, result.IsError(), result.Err)
	info, err = os.Stat(filepath.Join(s.Root(), "notes.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&0111)
}

func TestReadFile_Truncation(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	lines := make([]string, 100)
	for i := range lines {
		lines[i] = "line"
	}
	require.False(t, s.WriteFile("big.txt", strings.Join(lines, "\n")).IsError())

	result := s.ReadFile("big.txt", 10)
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, true, result.Data["truncated"])
	content := result.Data["content"].(string)
	assert.Contains(t, content, "truncated to 10 lines")
}

func TestReadFile_Errors(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.ReadFile("missing.txt", 0)
	assert.True(t, result.IsError())
	assert.Contains(t, result.Err, "file not found")

	// 二进制内容拒绝读取
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "bin.dat"), []byte{0x00, 0x01, 0xff}, 0644))
	result = s.ReadFile("bin.dat", 0)
	assert.True(t, result.IsError())
	assert.Contains(t, result.Err, "not decodable as text")
}

func TestListFiles_Recursive(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())
	require.False(t, s.WriteFile("a.txt", "a").IsError())
	require.False(t, s.WriteFile("sub/b.txt", "b").IsError())

	result := s.ListFiles(".", true)
	require.False(t, result.IsError(), result.Err)
	files := result.Data["files"].([]string)
	assert.Contains(t, files, "a.txt")
	assert.Contains(t, files, "sub/b.txt")
}

// ============================================================================
// shell 执行
// ============================================================================

func TestExecuteShell_ForbiddenPattern(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.ExecuteShell(context.Background(), "sudo apt-get install nmap", "")
	require.True(t, result.IsError())
	assert.Equal(t, "Command contains forbidden pattern: sudo", result.Err)

	result = s.ExecuteShell(context.Background(), "rm -rf / --no-preserve-root", "")
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "forbidden pattern")
}

func TestExecuteShell_AllowList(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowedCommands = []string{"echo", "python"}
	s := newTestSandbox(t, policy)

	result := s.ExecuteShell(context.Background(), "echo hello", "")
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, 0, result.Data["returncode"])
	assert.Contains(t, result.Data["stdout"], "hello")

	result = s.ExecuteShell(context.Background(), "curl http://example.com", "")
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "not in allow-list")
}

func TestExecuteShell_NonZeroExit(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.ExecuteShell(context.Background(), "exit 3", "")
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, 3, result.Data["returncode"])
}

func TestExecuteShell_ParentContextDeadline(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := s.ExecuteShell(ctx, "sleep 5", "")
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "Command aborted")
	assert.NotContains(t, result.Err, "timed out after")
}

func TestExecuteShell_WorkingDir(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.ExecuteShell(context.Background(), "pwd", "nested/dir")
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "nested/dir", result.Data["working_dir"])
	assert.Contains(t, result.Data["stdout"], filepath.Join(s.Root(), "nested", "dir"))
}

// ============================================================================
// 安装策略门禁
// ============================================================================

func TestInstallSystemPackages_DisabledByDefault(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.InstallSystemPackages(context.Background(), SystemInstallOptions{Packages: []string{"nmap"}})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "disabled by policy")
}

func TestInstallSystemPackages_Validation(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowSystemInstall = true
	policy.AllowedSystemPackages = []string{"gcc"}
	s := newTestSandbox(t, policy)

	result := s.InstallSystemPackages(context.Background(), SystemInstallOptions{Packages: []string{"bad;name"}, DryRun: true})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "invalid package name")

	result = s.InstallSystemPackages(context.Background(), SystemInstallOptions{Packages: []string{"nmap"}, DryRun: true})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "not in allow-list")

	result = s.InstallSystemPackages(context.Background(), SystemInstallOptions{DryRun: true})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "no packages")

	result = s.InstallSystemPackages(context.Background(), SystemInstallOptions{
		Packages:   []string{"gcc"},
		ExtraFlags: []string{"not a flag"},
		DryRun:     true,
	})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "invalid extra flag")

	result = s.InstallSystemPackages(context.Background(), SystemInstallOptions{
		Packages: []string{"gcc"},
		Manager:  "homebrew",
		DryRun:   true,
	})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "unsupported package manager")
}

func TestInstallSystemPackages_DryRunPlan(t *testing.T) {
	if _, err := exec.LookPath("apt-get"); err != nil {
		t.Skip("apt-get not available")
	}

	policy := DefaultPolicy()
	policy.AllowSystemInstall = true
	s := newTestSandbox(t, policy)

	result := s.InstallSystemPackages(context.Background(), SystemInstallOptions{
		Packages:    []string{"gcc", "make"},
		Manager:     "apt-get",
		UpdateIndex: true,
		AssumeYes:   true,
		DryRun:      true,
	})
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, true, result.Data["dry_run"])
	assert.Equal(t, "apt-get", result.Data["manager"])

	commands := result.Data["commands"].([]string)
	require.Len(t, commands, 2, "update command then install command")
	assert.Equal(t, "apt-get update", commands[0])
	assert.Equal(t, "apt-get install -y gcc make", commands[1])

	// update_index=false 时只剩安装命令
	result = s.InstallSystemPackages(context.Background(), SystemInstallOptions{
		Packages:  []string{"gcc"},
		Manager:   "apt-get",
		AssumeYes: true,
		DryRun:    true,
	})
	require.False(t, result.IsError(), result.Err)
	commands = result.Data["commands"].([]string)
	require.Len(t, commands, 1)
	assert.Equal(t, "apt-get install -y gcc", commands[0])
}

func TestInstallPipPackages_Gates(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.InstallPipPackages(context.Background(), PipInstallOptions{Packages: []string{"requests"}})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "disabled by policy")

	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	s = newTestSandbox(t, policy)

	// packages 和 requirements_file 二选一
	result = s.InstallPipPackages(context.Background(), PipInstallOptions{Packages: []string{"requests"}, RequirementsFile: "req.txt"})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "exactly one")

	result = s.InstallPipPackages(context.Background(), PipInstallOptions{})
	require.True(t, result.IsError())

	result = s.InstallPipPackages(context.Background(), PipInstallOptions{RequirementsFile: "missing-req.txt", DryRun: true})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "requirements file not found")
}

func TestInstallPipPackages_AllowList(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	policy.AllowedPipPackages = []string{"flask"}
	s := newTestSandbox(t, policy)

	result := s.InstallPipPackages(context.Background(), PipInstallOptions{Packages: []string{"requests>=2.0"}, DryRun: true})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "not in allow-list")
}

func TestInstallPipPackages_SpecifierCharset(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	s := newTestSandbox(t, policy)

	// 选项形态的 token 不得混进 pip 命令行
	rejected := []string{
		"--index-url=http://evil.example/simple",
		"-r/etc/passwd",
		"-e.",
		"requests; rm -rf /",
		"requests ==2.0 --pre",
	}
	for _, spec := range rejected {
		result := s.InstallPipPackages(context.Background(), PipInstallOptions{Packages: []string{spec}, DryRun: true})
		require.True(t, result.IsError(), "specifier %q should be rejected", spec)
		assert.Contains(t, result.Err, "invalid pip specifier")
	}

	if !pythonAvailable() {
		t.Skip("python not available")
	}
	accepted := []string{
		"flask",
		"flask==2.3.0",
		"requests>=2.0,<3",
		"uvicorn[standard]~=0.29",
	}
	for _, spec := range accepted {
		result := s.InstallPipPackages(context.Background(), PipInstallOptions{Packages: []string{spec}, DryRun: true})
		require.False(t, result.IsError(), "specifier %q rejected: %s", spec, result.Err)
	}
}

func TestInstallPipPackages_IndexURLValidation(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	s := newTestSandbox(t, policy)

	result := s.InstallPipPackages(context.Background(), PipInstallOptions{
		Packages: []string{"flask"},
		IndexURL: "file:///etc",
		DryRun:   true,
	})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "invalid index url")

	if !pythonAvailable() {
		t.Skip("python not available")
	}
	result = s.InstallPipPackages(context.Background(), PipInstallOptions{
		Packages:       []string{"flask"},
		IndexURL:       "https://mirror.example/simple",
		ExtraIndexURLs: []string{"https://backup.example/simple"},
		DryRun:         true,
	})
	require.False(t, result.IsError(), result.Err)
	command := result.Data["command"].(string)
	assert.Contains(t, command, "--index-url https://mirror.example/simple")
	assert.Contains(t, command, "--extra-index-url https://backup.example/simple")
}

func TestInstallPipPackages_DryRunProvisionsVenv(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	policy.CreateVenv = true
	s := newTestSandbox(t, policy)

	result := s.InstallPipPackages(context.Background(), PipInstallOptions{
		Packages: []string{"requests==2.31.0"},
		DryRun:   true,
	})
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, true, result.Data["dry_run"])

	command := result.Data["command"].(string)
	assert.Contains(t, command, "requests==2.31.0")
	assert.Contains(t, command, "pip install")

	// dry-run 也要先建虚拟环境，计划命令指向真实解释器
	venvPython := filepath.Join(s.Root(), ".venv", "bin", "python")
	assert.Contains(t, command, venvPython)
	_, err := os.Stat(venvPython)
	assert.NoError(t, err, "venv should exist after dry-run")

	// 包没有被真正安装
	_, err = os.Stat(filepath.Join(s.Root(), ".venv", "lib"))
	if err == nil {
		entries, _ := filepath.Glob(filepath.Join(s.Root(), ".venv", "lib", "*", "site-packages", "requests"))
		assert.Empty(t, entries, "dry-run must not install the package")
	}
}

func TestInstallPipPackages_EditableTargetContainment(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPipInstall = true
	s := newTestSandbox(t, policy)

	result := s.InstallPipPackages(context.Background(), PipInstallOptions{
		Packages: []string{"../outside"},
		Editable: true,
		DryRun:   true,
	})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "path escapes workspace")
}

func TestSpecifierName(t *testing.T) {
	cases := map[string]string{
		"flask":             "flask",
		"flask==2.3.0":      "flask",
		"requests>=2.0":     "requests",
		"uvicorn[standard]": "uvicorn",
		"numpy~=1.26":       "numpy",
	}
	for spec, want := range cases {
		assert.Equal(t, want, specifierName(spec), "specifier %q", spec)
	}
}

// ============================================================================
// 分发
// ============================================================================

func TestDispatch_UnknownTool(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.Dispatch(context.Background(), ToolCall{Name: "format_disk"})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "unknown tool")
}

func TestDispatch_WriteAndRead(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.Dispatch(context.Background(), ToolCall{
		Name:      string(ToolWriteFile),
		Arguments: map[string]interface{}{"path": "x.txt", "content": "hello"},
	})
	require.False(t, result.IsError(), result.Err)

	result = s.Dispatch(context.Background(), ToolCall{
		Name:      string(ToolReadFile),
		Arguments: map[string]interface{}{"path": "x.txt", "max_lines": float64(5)},
	})
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "hello", result.Data["content"])
}

func TestDispatch_MissingRequiredArgs(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.Dispatch(context.Background(), ToolCall{Name: string(ToolWriteFile)})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "requires a path")

	result = s.Dispatch(context.Background(), ToolCall{Name: string(ToolExecuteShell)})
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "requires a command")
}

func TestRequestUserInput_NoChannel(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())

	result := s.RequestUserInput(context.Background(), "which port?")
	require.True(t, result.IsError())
	assert.Contains(t, result.Err, "not available")
}

type stubRequester struct {
	reply string
}

func (r *stubRequester) RequestInput(ctx context.Context, jobID, prompt string) (string, error) {
	return r.reply, nil
}

func TestRequestUserInput_WithChannel(t *testing.T) {
	s := newTestSandbox(t, DefaultPolicy())
	s.SetInputRequester(&stubRequester{reply: "use port 8080"})

	result := s.RequestUserInput(context.Background(), "which port?")
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "use port 8080", result.Data["response"])
}
