// Package api 提供 HTTP API 处理器
//
// 本包实现了 CTF-Forge 生成服务的 RESTful API，包括：
//   - 生成任务管理（Job）接口
//   - 事件查询与实时推送（轮询 / SSE / WebSocket）
//   - 控制通道（人在环回复）接口
//
// 文件组织：
//   - common.go: 通用工具函数和 Handler 定义
//   - jobs.go: 任务相关接口
//   - events.go: 事件轮询与 SSE 接口
//   - control.go: 控制通道接口
//   - websocket.go: WebSocket 事件网关
package api

import (
	"encoding/json"
	"net/http"

	"ctf-forge/internal/jobs"
	"ctf-forge/internal/shared/eventbus"
	"ctf-forge/internal/shared/storage"
	"ctf-forge/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 协调任务管理器、事件总线和结果存储
type Handler struct {
	manager *jobs.Manager        // 任务管理器
	bus     eventbus.JobBus      // 事件/控制总线
	results *storage.ResultStore // 结果存储（可为 nil）
	gateway *EventGateway        // WebSocket 事件网关
	logger  *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(manager *jobs.Manager, bus eventbus.JobBus, results *storage.ResultStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default("api")
	}
	return &Handler{
		manager: manager,
		bus:     bus,
		results: results,
		gateway: NewEventGateway(bus, logger),
		logger:  logger,
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /healthz
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
