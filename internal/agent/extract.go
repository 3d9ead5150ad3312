package agent

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"ctf-forge/internal/sandbox"
)

// flagPattern 赛题 flag 令牌格式
var flagPattern = regexp.MustCompile(`(?:flag|FLAG|CTF)\{[^}\r\n]+\}`)

// primaryKeywords 主文件名关键字
var primaryKeywords = []string{"challenge", "main", "server", "app", "index"}

// transcriptTailLen 结果快照保留的助手文本条数
const transcriptTailLen = 5

// manifestFileLimit 单个文件纳入清单的大小上限
const manifestFileLimit = 1 << 20

// Result 生成任务的结构化产物
type Result struct {
	// Manifest 工作空间相对路径 → 文件内容（仅文本文件）
	Manifest map[string]string `json:"manifest"`
	// Flag 提取到的 flag 令牌（未找到为空）
	Flag string `json:"flag,omitempty"`
	// PrimaryFiles 按关键字识别的主文件
	PrimaryFiles []string `json:"primary_files,omitempty"`
	// TranscriptTail 对话末尾的助手文本
	TranscriptTail []string `json:"transcript_tail,omitempty"`
}

// Extract 从工作空间和对话记录提取任务产物
//
// 提取永远不让任务失败：读不到的文件、二进制文件、超大文件
// 一律静默跳过。flag 先在文件内容里找，找不到再退回助手文本。
func Extract(sb *sandbox.Sandbox, transcript *Transcript) *Result {
	result := &Result{
		Manifest: map[string]string{},
	}

	root := sb.Root()
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			// 虚拟环境等隐藏目录不进清单
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > manifestFileLimit {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !isText(data) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		result.Manifest[rel] = string(data)
		return nil
	})

	// flag：文件优先，其次助手文本
	paths := make([]string, 0, len(result.Manifest))
	for path := range result.Manifest {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if match := flagPattern.FindString(result.Manifest[path]); match != "" {
			result.Flag = match
			break
		}
	}
	if result.Flag == "" {
		for _, text := range transcript.AssistantTexts() {
			if match := flagPattern.FindString(text); match != "" {
				result.Flag = match
				break
			}
		}
	}

	for _, path := range paths {
		base := strings.ToLower(filepath.Base(path))
		for _, keyword := range primaryKeywords {
			if strings.Contains(base, keyword) {
				result.PrimaryFiles = append(result.PrimaryFiles, path)
				break
			}
		}
	}

	result.TranscriptTail = transcript.Tail(transcriptTailLen)
	return result
}

// isText 无 NUL 字节且为合法 UTF-8
func isText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}
