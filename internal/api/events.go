// Package api 事件查询与 SSE 推送接口
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ctf-forge/internal/shared/eventbus"
)

const (
	// ssePollTimeout SSE 单次拉取的阻塞时长（亚秒级，保证按时发 keep-alive）
	ssePollTimeout = 250 * time.Millisecond

	// sseKeepAliveInterval keep-alive 注释的最大间隔
	sseKeepAliveInterval = time.Second

	// sseTrailingDrain 终态事件之后的收尾拉取时长
	sseTrailingDrain = 2 * time.Second
)

// GetEvents 轮询获取任务事件列表
//
// 路由: GET /api/v1/jobs/{id}/events
//
// 查询参数:
//   - from_seq: 起始序号（不包含），默认 0
//   - limit: 返回数量限制，默认 100，最大 1000
//
// 响应:
//
//	{
//	  "events": [...],
//	  "count": 10
//	}
//
// 使用场景：
//   - 前端轮询获取新事件
//   - 断线重连后恢复事件流
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	events, err := h.bus.GetEvents(r.Context(), jobID, fromSeq, int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if events == nil {
		events = []*eventbus.StreamEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// StreamEvents SSE 实时事件流
//
// 路由: GET /api/v1/jobs/{id}/events/stream
//
// 行为：
//   - 以亚秒级超时从拉取队列取事件，逐条写成 `data: {...}` 帧
//   - 至少每秒写一条 `: keep-alive` 注释维持连接
//   - 读到终态事件后做一次有界收尾拉取，然后关闭流
//
// 拉取队列是单消费者通道：同一 Job 同时只应有一个 SSE 消费者，
// 多观察者场景应使用 WebSocket 订阅。
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	lastWrite := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		event, err := h.bus.Pull(ctx, jobID, ssePollTimeout)
		if err != nil {
			h.logger.WithJobID(jobID).WithError(err).Warn("SSE 拉取事件失败")
			return
		}

		if event != nil {
			if !h.writeSSEEvent(w, flusher, event) {
				return
			}
			lastWrite = time.Now()

			if eventbus.IsTerminal(event.Type) {
				h.drainTrailing(ctx, w, flusher, jobID)
				return
			}
			continue
		}

		if time.Since(lastWrite) >= sseKeepAliveInterval {
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			lastWrite = time.Now()
		}
	}
}

// drainTrailing 终态之后的有界收尾：把已入队的剩余事件发完
func (h *Handler) drainTrailing(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, jobID string) {
	deadline := time.Now().Add(sseTrailingDrain)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		event, err := h.bus.Pull(ctx, jobID, 100*time.Millisecond)
		if err != nil || event == nil {
			return
		}
		if !h.writeSSEEvent(w, flusher, event) {
			return
		}
	}
}

// writeSSEEvent 写一条 SSE 事件帧
func (h *Handler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event *eventbus.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
