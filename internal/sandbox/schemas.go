package sandbox

// ToolSpec 面向模型声明的工具描述（与具体 LLM SDK 解耦）
type ToolSpec struct {
	Name        string
	Description string
	// Parameters 为 JSON Schema 形式的参数描述
	Parameters map[string]interface{}
	Required   []string
}

// Specs 返回沙箱全部工具的模型侧声明
func Specs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        string(ToolWriteFile),
			Description: "Write a file inside the workspace. Creates parent directories as needed. Scripts (.sh, .py, shebang files) are made executable.",
			Parameters: map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
				"content": map[string]interface{}{"type": "string", "description": "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        string(ToolReadFile),
			Description: "Read a text file from the workspace. Optionally limit the number of lines returned.",
			Parameters: map[string]interface{}{
				"path":      map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
				"max_lines": map[string]interface{}{"type": "integer", "description": "Truncate output to this many lines (0 = no limit)"},
			},
			Required: []string{"path"},
		},
		{
			Name:        string(ToolListFiles),
			Description: "List files and directories under a workspace path.",
			Parameters: map[string]interface{}{
				"path":      map[string]interface{}{"type": "string", "description": "Directory to list, relative to the workspace root (default: .)"},
				"recursive": map[string]interface{}{"type": "boolean", "description": "Walk subdirectories recursively"},
			},
		},
		{
			Name:        string(ToolExecuteShell),
			Description: "Execute a shell command inside the workspace. Commands run with a 5 minute timeout; stdout and stderr are truncated to 10000 characters.",
			Parameters: map[string]interface{}{
				"command":     map[string]interface{}{"type": "string", "description": "Shell command to run via sh -c"},
				"working_dir": map[string]interface{}{"type": "string", "description": "Working directory relative to the workspace root (default: workspace root)"},
			},
			Required: []string{"command"},
		},
		{
			Name:        string(ToolInstallSystemPackages),
			Description: "Install system packages using the host package manager. Use dry_run to preview the commands without executing them.",
			Parameters: map[string]interface{}{
				"packages":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Package names to install"},
				"manager":      map[string]interface{}{"type": "string", "description": "Package manager to use (default: configured or auto-detected)"},
				"update_index": map[string]interface{}{"type": "boolean", "description": "Refresh the package index before installing (default: true)"},
				"assume_yes":   map[string]interface{}{"type": "boolean", "description": "Pass the manager's non-interactive confirmation flag (default: true)"},
				"extra_flags":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Additional flags appended to the install command"},
				"dry_run":      map[string]interface{}{"type": "boolean", "description": "Return the planned commands without running them"},
			},
			Required: []string{"packages"},
		},
		{
			Name:        string(ToolInstallPipPackages),
			Description: "Install Python packages into the workspace virtual environment. Provide either packages or requirements_file, not both.",
			Parameters: map[string]interface{}{
				"packages":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Pip requirement specifiers"},
				"requirements_file": map[string]interface{}{"type": "string", "description": "Workspace-relative requirements file"},
				"upgrade":           map[string]interface{}{"type": "boolean", "description": "Pass --upgrade to pip"},
				"index_url":         map[string]interface{}{"type": "string", "description": "Alternative package index URL (http/https only)"},
				"extra_index_urls":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Additional package index URLs (http/https only)"},
				"editable":          map[string]interface{}{"type": "boolean", "description": "Install packages as editable workspace paths (pip -e)"},
				"create_venv":       map[string]interface{}{"type": "boolean", "description": "Override the configured virtual environment creation behavior"},
				"working_dir":       map[string]interface{}{"type": "string", "description": "Working directory for the install command, relative to the workspace root"},
				"dry_run":           map[string]interface{}{"type": "boolean", "description": "Return the planned command without running it"},
			},
		},
		{
			Name:        string(ToolRequestUserInput),
			Description: "Ask the human operator a question and wait for their reply. Use when a decision cannot be made autonomously.",
			Parameters: map[string]interface{}{
				"prompt": map[string]interface{}{"type": "string", "description": "Question to show the operator"},
			},
			Required: []string{"prompt"},
		},
	}
}
