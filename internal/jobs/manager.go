// Package jobs 生成任务管理
//
// 每个任务一个后台 goroutine：搭建工作空间沙箱和生成循环，
// 把生命周期和进度事件发布到事件总线，结束后落库结果快照。
// 观察者只读：断开订阅、拉取超时都不影响任务执行。
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ctf-forge/internal/agent"
	"ctf-forge/internal/model"
	"ctf-forge/internal/sandbox"
	"ctf-forge/internal/shared/eventbus"
	"ctf-forge/internal/shared/storage"
	"ctf-forge/pkg/logging"
)

// 任务状态
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusBudgetExhausted = "budget_exhausted"
	StatusFailed          = "failed"
)

// perIterationBudget 默认墙钟预算 = 迭代预算 × 每轮额度
const perIterationBudget = 6 * time.Minute

// Spec 任务提交参数
type Spec struct {
	Prompt        string `json:"prompt"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
	Seed          string `json:"seed,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// Job 任务运行时快照
type Job struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Category   string    `json:"category,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	seq int64 // 事件序号计数器
}

// Options 管理器配置
type Options struct {
	// WorkspaceBase 工作空间根目录
	WorkspaceBase string
	// Model 模型名称
	Model string
	// SystemPrompt 系统指令（空则使用内置指令）
	SystemPrompt string
	// DefaultMaxIterations 未指定时的迭代预算
	DefaultMaxIterations int
	// MaxIterationsCap 调用方可请求的迭代预算上限
	MaxIterationsCap int
	// JobTimeout 任务墙钟上限（0 = 迭代预算 × 6 分钟）
	JobTimeout time.Duration
	// Policy 沙箱安全策略
	Policy sandbox.Policy
	// RetentionMaxAge 工作空间保留时长
	RetentionMaxAge time.Duration
	// CleanupInterval 保留清理周期
	CleanupInterval time.Duration
}

// Manager 任务管理器
type Manager struct {
	opts     Options
	provider model.Provider
	bus      eventbus.JobBus
	results  *storage.ResultStore
	logger   *logging.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewManager 创建任务管理器
func NewManager(opts Options, provider model.Provider, bus eventbus.JobBus, results *storage.ResultStore, logger *logging.Logger) *Manager {
	if opts.DefaultMaxIterations <= 0 {
		opts.DefaultMaxIterations = 30
	}
	if opts.MaxIterationsCap <= 0 {
		opts.MaxIterationsCap = 100
	}
	if opts.RetentionMaxAge <= 0 {
		opts.RetentionMaxAge = 24 * time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if logger == nil {
		logger = logging.Default("jobs")
	}
	return &Manager{
		opts:     opts,
		provider: provider,
		bus:      bus,
		results:  results,
		logger:   logger,
		jobs:     map[string]*Job{},
		stop:     make(chan struct{}),
	}
}

// Submit 提交生成任务，立即返回任务 ID
func (m *Manager) Submit(spec Spec) (string, error) {
	if strings.TrimSpace(spec.Prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	if spec.MaxIterations < 0 {
		return "", fmt.Errorf("max_iterations must be positive")
	}
	if spec.MaxIterations == 0 {
		spec.MaxIterations = m.opts.DefaultMaxIterations
	}
	if spec.MaxIterations > m.opts.MaxIterationsCap {
		return "", fmt.Errorf("max_iterations exceeds cap of %d", m.opts.MaxIterationsCap)
	}

	job := &Job{
		ID:         uuid.New().String(),
		Status:     StatusPending,
		Category:   spec.Category,
		Difficulty: spec.Difficulty,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(job, spec)

	return job.ID, nil
}

// GetJob 取任务运行时快照
func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Shutdown 停止清理循环并等待在途任务结束
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() { close(m.stop) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run 在后台 goroutine 完整执行一个任务
func (m *Manager) run(job *Job, spec Spec) {
	defer m.wg.Done()

	logger := m.logger.WithJobID(job.ID)
	start := time.Now()
	jobsStartedTotal.Inc()
	jobsRunning.Inc()
	defer jobsRunning.Dec()
	defer func() { jobDuration.Observe(time.Since(start).Seconds()) }()

	timeout := m.opts.JobTimeout
	if timeout <= 0 {
		timeout = time.Duration(spec.MaxIterations) * perIterationBudget
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m.setStatus(job.ID, StatusRunning, "")
	m.publish(ctx, job, eventbus.EventJobStarted, map[string]interface{}{
		"category":       spec.Category,
		"difficulty":     spec.Difficulty,
		"max_iterations": spec.MaxIterations,
	})

	status, result, err := m.execute(ctx, job, spec, logger)

	// 终态事件不能因任务超时的 ctx 而丢失
	pubCtx, pubCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pubCancel()

	finished := time.Now().UTC()
	if err != nil {
		logger.WithError(err).Error("任务失败")
		m.setStatus(job.ID, StatusFailed, err.Error())
		jobsCompletedTotal.WithLabelValues(StatusFailed).Inc()
		m.saveResult(job, spec, StatusFailed, err.Error(), result)
		m.publish(pubCtx, job, eventbus.EventJobFailed, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	terminal := StatusCompleted
	if status == agent.StatusBudgetExhausted {
		terminal = StatusBudgetExhausted
	}
	m.setStatus(job.ID, terminal, "")
	m.mu.Lock()
	job.FinishedAt = finished
	m.mu.Unlock()
	jobsCompletedTotal.WithLabelValues(terminal).Inc()
	m.saveResult(job, spec, terminal, "", result)

	payload := map[string]interface{}{
		"status": terminal,
	}
	if result != nil {
		payload["flag_found"] = result.Flag != ""
		payload["file_count"] = len(result.Manifest)
	}
	m.publish(pubCtx, job, eventbus.EventJobCompleted, payload)
	logger.JobLog("finished", job.ID, "status", terminal, "duration", time.Since(start).String())
}

// execute 搭建沙箱和控制器并跑完生成循环
func (m *Manager) execute(ctx context.Context, job *Job, spec Spec, logger *logging.Logger) (agent.Status, *agent.Result, error) {
	workspace := fmt.Sprintf("%s/%s", strings.TrimRight(m.opts.WorkspaceBase, "/"), job.ID)
	sb, err := sandbox.New(workspace, job.ID, m.opts.Policy)
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}

	sb.SetInputRequester(&busInputRequester{
		bus:     m.bus,
		publish: func(eventType string, payload map[string]interface{}) { m.publish(ctx, job, eventType, payload) },
	})

	emit := func(eventType string, payload map[string]interface{}) {
		switch eventType {
		case eventbus.EventIteration:
			loopIterationsTotal.Inc()
		case eventbus.EventToolCall:
			if tool, ok := payload["tool"].(string); ok {
				toolCallsTotal.WithLabelValues(tool).Inc()
			}
		}
		m.publish(ctx, job, eventType, payload)
	}

	ctrl := agent.NewController(m.provider, sb, agent.Options{
		Model:         m.opts.Model,
		MaxIterations: spec.MaxIterations,
		SystemPrompt:  m.systemPrompt(),
		UserPrompt:    buildUserPrompt(spec),
	}, emit, logger)

	status, err := ctrl.Run(ctx)
	if err != nil {
		// 失败任务也尽量保留已产出的内容
		return "", agent.Extract(sb, ctrl.Transcript()), err
	}

	return status, agent.Extract(sb, ctrl.Transcript()), nil
}

// publish 给事件编号并发布；发布失败只记日志，不影响任务
func (m *Manager) publish(ctx context.Context, job *Job, eventType string, payload map[string]interface{}) {
	event := &eventbus.StreamEvent{
		JobID:     job.ID,
		Seq:       int(atomic.AddInt64(&job.seq, 1)),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := m.bus.Publish(ctx, job.ID, event); err != nil {
		m.logger.WithJobID(job.ID).WithError(err).Warn("事件发布失败", "type", eventType)
		return
	}
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func (m *Manager) setStatus(jobID, status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
		job.Error = errMsg
	}
}

// saveResult 落库结果快照（无存储时跳过）
func (m *Manager) saveResult(job *Job, spec Spec, status, errMsg string, result *agent.Result) {
	if m.results == nil {
		return
	}

	record := &storage.JobResult{
		JobID:      job.ID,
		Category:   spec.Category,
		Difficulty: spec.Difficulty,
		Status:     status,
		Error:      errMsg,
		CreatedAt:  job.CreatedAt,
	}
	if result != nil {
		record.Flag = result.Flag
		record.Manifest = result.Manifest
		record.TranscriptTail = result.TranscriptTail
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.results.SaveResult(ctx, record); err != nil {
		m.logger.WithJobID(job.ID).WithError(err).Error("结果落库失败")
	}
}

// systemPrompt 内置系统指令
func (m *Manager) systemPrompt() string {
	if m.opts.SystemPrompt != "" {
		return m.opts.SystemPrompt
	}
	return "You are an expert CTF challenge author. You build complete, solvable " +
		"capture-the-flag challenges inside a workspace using the provided tools. " +
		"Write all challenge files into the workspace, embed exactly one flag token, " +
		"verify the intended solve path, and finish by stating that the challenge is complete."
}

// buildUserPrompt 组装任务指令
func buildUserPrompt(spec Spec) string {
	var b strings.Builder
	b.WriteString(spec.Prompt)
	if spec.Category != "" {
		fmt.Fprintf(&b, "\nCategory: %s", spec.Category)
	}
	if spec.Difficulty != "" {
		fmt.Fprintf(&b, "\nDifficulty: %s", spec.Difficulty)
	}
	if spec.Seed != "" {
		fmt.Fprintf(&b, "\nSeed: %s", spec.Seed)
	}
	return b.String()
}
