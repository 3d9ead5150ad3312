// Package api 路由配置
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查/指标:
//   - GET /healthz  - 服务健康检查
//   - GET /metrics  - Prometheus 指标
//
// 任务管理 (Job):
//   - POST /api/v1/jobs        - 提交生成任务
//   - GET  /api/v1/jobs        - 列出最近完成的任务结果
//   - GET  /api/v1/jobs/{id}   - 获取任务状态（含已完成任务的结果）
//
// 事件 (Event):
//   - GET  /api/v1/jobs/{id}/events         - 轮询事件列表
//   - GET  /api/v1/jobs/{id}/events/stream  - SSE 实时事件流
//   - GET  /ws/jobs/{id}/events             - WebSocket 实时事件推送
//
// 控制通道 (Control):
//   - POST /api/v1/jobs/{id}/control - 提交控制消息（人在环回复）
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)

	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.GetEvents)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events/stream", h.StreamEvents)
	mux.HandleFunc("GET /ws/jobs/{id}/events", h.gateway.HandleWebSocket)

	mux.HandleFunc("POST /api/v1/jobs/{id}/control", h.SubmitControl)

	return mux
}
