// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctf-forge/internal/api"
	"ctf-forge/internal/config"
	"ctf-forge/internal/jobs"
	"ctf-forge/internal/model/gemini"
	"ctf-forge/internal/shared/infra"
	"ctf-forge/internal/shared/storage"
	"ctf-forge/pkg/logging"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换 YAML）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	if cfg.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化模型提供方
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create model provider: %v", err)
	}

	// 初始化事件总线（Redis Streams，不可用时降级为进程内实现）
	bus := infra.NewJobBus(cfg.RedisURL)
	defer bus.Close()

	// 初始化结果存储（SQLite）
	results, err := storage.OpenResultStore(cfg.ResultsDSN)
	if err != nil {
		log.Fatalf("Failed to open result store: %v", err)
	}
	defer results.Close()
	log.Println("Result store ready")

	// 任务管理器
	logger := logging.Default("jobs")
	manager := jobs.NewManager(jobs.Options{
		WorkspaceBase:        cfg.Generator.WorkspaceBase,
		Model:                cfg.Generator.Model,
		SystemPrompt:         cfg.Generator.SystemPrompt,
		DefaultMaxIterations: cfg.Generator.MaxIterations,
		MaxIterationsCap:     cfg.Generator.MaxIterationsCap,
		JobTimeout:           cfg.Generator.JobTimeout.Std(),
		Policy:               cfg.Policy(),
		RetentionMaxAge:      cfg.Generator.RetentionMaxAge.Std(),
		CleanupInterval:      cfg.Generator.CleanupInterval.Std(),
	}, provider, bus, results, logger)
	manager.StartCleanup()

	h := api.NewHandler(manager, bus, results, logging.Default("api"))

	// 不设 WriteTimeout：SSE 和 WebSocket 是长连接
	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("Job manager shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
