// Package api 任务管理接口
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ctf-forge/internal/jobs"
	"ctf-forge/internal/shared/storage"
)

// SubmitJobRequest 提交生成任务的请求体
//
// 字段说明：
//   - Prompt: 任务指令（必填）
//   - Category: 赛题类别（web/pwn/crypto/misc/...）
//   - Difficulty: 难度（easy/medium/hard）
//   - Seed: 随机种子，用于可复现生成
//   - MaxIterations: 迭代预算（可选，超出上限拒绝）
type SubmitJobRequest struct {
	Prompt        string `json:"prompt"`
	Category      string `json:"category,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`
	Seed          string `json:"seed,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// SubmitJob 提交生成任务
//
// 路由: POST /api/v1/jobs
//
// 响应:
//   - 202 Accepted: {"job_id": "..."}
//   - 400 Bad Request: 请求体或参数非法
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := h.manager.Submit(jobs.Spec{
		Prompt:        req.Prompt,
		Category:      req.Category,
		Difficulty:    req.Difficulty,
		Seed:          req.Seed,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.JobLog("submitted", jobID, "category", req.Category, "difficulty", req.Difficulty)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// GetJob 获取任务状态
//
// 路由: GET /api/v1/jobs/{id}
//
// 运行中的任务返回内存快照；已结束的任务附带落库的结果
// （flag、文件清单、对话末尾）。
//
// 响应:
//   - 200 OK: {"job": {...}, "result": {...}?}
//   - 404 Not Found: 任务不存在
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, ok := h.manager.GetJob(jobID)
	resp := map[string]interface{}{}

	if ok {
		resp["job"] = job
	}

	if h.results != nil {
		result, err := h.results.GetResult(r.Context(), jobID)
		if err == nil {
			resp["result"] = result
		} else if !errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to load result")
			return
		}
	}

	if len(resp) == 0 {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs 列出最近完成的任务结果
//
// 路由: GET /api/v1/jobs
//
// 查询参数:
//   - limit: 返回数量限制，默认 100，最大 500
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []interface{}{}, "count": 0})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.results.ListResults(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
}
