// Package api 控制通道接口
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ctf-forge/internal/shared/eventbus"
)

// SubmitControlRequest 提交控制消息的请求体
//
// 字段说明：
//   - Type: 消息类型，默认 user_input
//   - Payload: 消息数据；人在环回复需携带
//     correlation_id（来自 user_input_requested 事件）和 response
type SubmitControlRequest struct {
	Type    string                 `json:"type,omitempty"`
	Payload map[string]interface{} `json:"payload"`
}

// SubmitControl 提交控制消息（人在环回复）
//
// 路由: POST /api/v1/jobs/{id}/control
//
// 响应:
//   - 202 Accepted: {"id": "..."}
//   - 400 Bad Request: 请求体格式错误
//   - 500 Internal Server Error: 控制通道写入失败
func (h *Handler) SubmitControl(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req SubmitControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = eventbus.ControlUserInput
	}

	msg := &eventbus.ControlMessage{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Type:      req.Type,
		Timestamp: time.Now().UTC(),
		Payload:   req.Payload,
	}
	if err := h.bus.SubmitControl(r.Context(), jobID, msg); err != nil {
		h.logger.WithJobID(jobID).WithError(err).Error("控制消息写入失败")
		writeError(w, http.StatusInternalServerError, "failed to submit control message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}
