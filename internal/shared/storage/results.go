// Package storage 已完成任务的结果持久化
//
// 基于 SQLite 的轻量存储：单表、打开时自动迁移，
// 适用于开发、测试和单机部署场景。
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound 结果不存在
var ErrNotFound = errors.New("result not found")

const resultsSchema = `
CREATE TABLE IF NOT EXISTS results (
    job_id          TEXT PRIMARY KEY,
    category        TEXT NOT NULL DEFAULT '',
    difficulty      TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    error           TEXT NOT NULL DEFAULT '',
    flag            TEXT NOT NULL DEFAULT '',
    manifest        TEXT NOT NULL DEFAULT '{}',
    transcript_tail TEXT NOT NULL DEFAULT '[]',
    created_at      TIMESTAMP NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
`

// JobResult 一次生成任务的最终快照
type JobResult struct {
	JobID          string            `json:"job_id"`
	Category       string            `json:"category,omitempty"`
	Difficulty     string            `json:"difficulty,omitempty"`
	Status         string            `json:"status"`
	Error          string            `json:"error,omitempty"`
	Flag           string            `json:"flag,omitempty"`
	Manifest       map[string]string `json:"manifest,omitempty"`
	TranscriptTail []string          `json:"transcript_tail,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ResultStore SQLite 结果存储
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore 打开结果库并执行自动迁移
// dsn 示例: "file:results.db?cache=shared&mode=rwc" 或 ":memory:"
func OpenResultStore(dsn string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(resultsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate results schema: %w", err)
	}

	return &ResultStore{db: db}, nil
}

// SaveResult 保存（或覆盖）任务结果
func (s *ResultStore) SaveResult(ctx context.Context, result *JobResult) error {
	manifest, err := json.Marshal(result.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tail, err := json.Marshal(result.TranscriptTail)
	if err != nil {
		return fmt.Errorf("marshal transcript tail: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (job_id, category, difficulty, status, error, flag, manifest, transcript_tail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			flag = excluded.flag,
			manifest = excluded.manifest,
			transcript_tail = excluded.transcript_tail`,
		result.JobID, result.Category, result.Difficulty, result.Status,
		result.Error, result.Flag, string(manifest), string(tail), createdAt)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult 按 Job ID 取结果
func (s *ResultStore) GetResult(ctx context.Context, jobID string) (*JobResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, category, difficulty, status, error, flag, manifest, transcript_tail, created_at
		FROM results WHERE job_id = ?`, jobID)
	return scanResult(row)
}

// ListResults 按创建时间倒序列出最近的结果
func (s *ResultStore) ListResults(ctx context.Context, limit int) ([]*JobResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, category, difficulty, status, error, flag, manifest, transcript_tail, created_at
		FROM results ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*JobResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Close 关闭数据库连接
func (s *ResultStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row rowScanner) (*JobResult, error) {
	var result JobResult
	var manifest, tail string

	err := row.Scan(&result.JobID, &result.Category, &result.Difficulty,
		&result.Status, &result.Error, &result.Flag, &manifest, &tail, &result.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}

	if err := json.Unmarshal([]byte(manifest), &result.Manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(tail), &result.TranscriptTail); err != nil {
		return nil, fmt.Errorf("unmarshal transcript tail: %w", err)
	}
	return &result, nil
}
