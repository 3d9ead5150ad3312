// Package jobs 工作空间保留清理
package jobs

import (
	"os"
	"path/filepath"
	"time"
)

// StartCleanup 启动工作空间保留清理循环
//
// 按固定周期删除基目录下修改时间早于保留时长的工作空间目录。
// Shutdown 关闭 stop 通道后循环退出。
func (m *Manager) StartCleanup() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.opts.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.cleanupExpiredWorkspaces()
			}
		}
	}()
}

// cleanupExpiredWorkspaces 删除过期的工作空间目录
func (m *Manager) cleanupExpiredWorkspaces() {
	entries, err := os.ReadDir(m.opts.WorkspaceBase)
	if err != nil {
		m.logger.WithError(err).Warn("读取工作空间基目录失败")
		return
	}

	cutoff := time.Now().Add(-m.opts.RetentionMaxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// 运行中任务的工作空间不清理
		if job, ok := m.GetJob(entry.Name()); ok &&
			(job.Status == StatusPending || job.Status == StatusRunning) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.opts.WorkspaceBase, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.WithError(err).Warn("删除过期工作空间失败", "path", path)
			continue
		}
		removed++
		workspacesCleanedTotal.Inc()
	}

	if removed > 0 {
		m.logger.Info("清理过期工作空间", "removed", removed,
			"max_age", m.opts.RetentionMaxAge.String())
	}
}
