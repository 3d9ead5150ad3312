// Package sandbox 文件操作：写入、读取、列目录
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// scriptExtensions 写入时自动加可执行位的脚本扩展名
var scriptExtensions = map[string]bool{
	".sh":   true,
	".bash": true,
	".py":   true,
	".pl":   true,
	".rb":   true,
}

// WriteFile 在工作空间内写入文本文件
//
// 自动创建父目录；脚本扩展名或 shebang 开头的内容加可执行位。
// 重复写入同一路径是覆盖语义。
func (s *Sandbox) WriteFile(path, content string) ToolResult {
	abs, err := s.resolvePath(path)
	if err != nil {
		return errResult("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return errResult("create parent directory: %v", err)
	}

	perm := os.FileMode(0644)
	if scriptExtensions[strings.ToLower(filepath.Ext(abs))] || strings.HasPrefix(content, "#!") {
		perm = 0755
	}

	if err := os.WriteFile(abs, []byte(content), perm); err != nil {
		return errResult("write file: %v", err)
	}
	// 覆盖已存在文件时 WriteFile 不改权限，补一次
	if err := os.Chmod(abs, perm); err != nil {
		return errResult("set file mode: %v", err)
	}

	return okResult(map[string]interface{}{
		"path": s.relPath(abs),
		"size": len(content),
	})
}

// ReadFile 读取工作空间内的文本文件
//
// maxLines > 0 时截断到指定行数并追加截断标记。
// 二进制内容视为不可读，返回结构化错误。
func (s *Sandbox) ReadFile(path string, maxLines int) ToolResult {
	abs, err := s.resolvePath(path)
	if err != nil {
		return errResult("%v", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult("file not found: %s", path)
		}
		return errResult("stat file: %v", err)
	}
	if info.IsDir() {
		return errResult("not a file: %s", path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errResult("read file: %v", err)
	}
	if !isTextContent(data) {
		return errResult("file is not decodable as text: %s", path)
	}

	content := string(data)
	truncated := false
	if maxLines > 0 {
		lines := strings.Split(content, "\n")
		if len(lines) > maxLines {
			content = strings.Join(lines[:maxLines], "\n") +
				fmt.Sprintf("\n... [truncated to %d lines]", maxLines)
			truncated = true
		}
	}

	return okResult(map[string]interface{}{
		"path":      s.relPath(abs),
		"content":   content,
		"size":      info.Size(),
		"truncated": truncated,
	})
}

// ListFiles 列出目录内容，文件和子目录分开返回，按路径排序
func (s *Sandbox) ListFiles(path string, recursive bool) ToolResult {
	abs, err := s.resolvePath(path)
	if err != nil {
		return errResult("%v", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult("directory not found: %s", path)
		}
		return errResult("stat directory: %v", err)
	}
	if !info.IsDir() {
		return errResult("not a directory: %s", path)
	}

	var files, dirs []string

	if recursive {
		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == abs {
				return nil
			}
			if d.IsDir() {
				dirs = append(dirs, s.relPath(p))
			} else {
				files = append(files, s.relPath(p))
			}
			return nil
		})
		if err != nil {
			return errResult("walk directory: %v", err)
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return errResult("read directory: %v", err)
		}
		for _, e := range entries {
			p := s.relPath(filepath.Join(abs, e.Name()))
			if e.IsDir() {
				dirs = append(dirs, p)
			} else {
				files = append(files, p)
			}
		}
	}

	sort.Strings(files)
	sort.Strings(dirs)

	return okResult(map[string]interface{}{
		"path":        s.relPath(abs),
		"files":       files,
		"directories": dirs,
	})
}

// isTextContent 判断内容是否为可解码文本（无 NUL 字节且为合法 UTF-8）
func isTextContent(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}
