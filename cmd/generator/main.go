// Package main 本地一次性生成入口
//
// 不起服务、不连 Redis：进程内事件总线 + 控制台输出，
// 跑完单个生成任务后打印文件清单和 flag。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"ctf-forge/internal/agent"
	"ctf-forge/internal/config"
	"ctf-forge/internal/model/gemini"
	"ctf-forge/internal/sandbox"
	"ctf-forge/pkg/logging"
)

func main() {
	var (
		prompt        = flag.String("prompt", "", "challenge generation prompt (required)")
		category      = flag.String("category", "", "challenge category (web/pwn/crypto/misc/...)")
		difficulty    = flag.String("difficulty", "", "challenge difficulty (easy/medium/hard)")
		workspace     = flag.String("workspace", "", "workspace directory (default: temp dir)")
		maxIterations = flag.Int("max-iterations", 0, "iteration budget (default from config)")
		verbose       = flag.Bool("verbose", false, "print assistant messages as they arrive")
	)
	flag.Parse()

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: generator -prompt \"...\" [-category web] [-difficulty easy]")
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}
	if *maxIterations <= 0 {
		*maxIterations = cfg.Generator.MaxIterations
	}

	ctx := context.Background()
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create model provider: %v", err)
	}

	root := *workspace
	if root == "" {
		root, err = os.MkdirTemp("", "ctf-forge-*")
		if err != nil {
			log.Fatalf("Failed to create workspace: %v", err)
		}
	}

	sb, err := sandbox.New(root, "local", cfg.Policy())
	if err != nil {
		log.Fatalf("Failed to create sandbox: %v", err)
	}

	emit := func(eventType string, payload map[string]interface{}) {
		switch eventType {
		case "iteration":
			log.Printf("[Generator] iteration %v/%v", payload["iteration"], payload["max_iterations"])
		case "tool_call":
			log.Printf("[Generator] tool: %v", payload["tool"])
		case "assistant_message":
			if *verbose {
				log.Printf("[Generator] assistant: %v", payload["text"])
			}
		}
	}

	userPrompt := *prompt
	if *category != "" {
		userPrompt += "\nCategory: " + *category
	}
	if *difficulty != "" {
		userPrompt += "\nDifficulty: " + *difficulty
	}

	ctrl := agent.NewController(provider, sb, agent.Options{
		Model:         cfg.Generator.Model,
		MaxIterations: *maxIterations,
		SystemPrompt:  cfg.Generator.SystemPrompt,
		UserPrompt:    userPrompt,
	}, emit, logging.Default("generator"))

	status, err := ctrl.Run(ctx)
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	result := agent.Extract(sb, ctrl.Transcript())

	fmt.Printf("\nStatus:    %s\n", status)
	fmt.Printf("Workspace: %s\n", sb.Root())
	if result.Flag != "" {
		fmt.Printf("Flag:      %s\n", result.Flag)
	} else {
		fmt.Println("Flag:      (not found)")
	}

	paths := make([]string, 0, len(result.Manifest))
	for path := range result.Manifest {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	fmt.Printf("Files (%d):\n", len(paths))
	for _, path := range paths {
		marker := " "
		for _, primary := range result.PrimaryFiles {
			if primary == path {
				marker = "*"
				break
			}
		}
		fmt.Printf("  %s %s\n", marker, path)
	}
}
