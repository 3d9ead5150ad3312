// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Bus：事件/控制总线（Redis Streams，不可用时降级为进程内实现）
//   - Results：生成结果存储（SQLite）
package infra

import (
	"ctf-forge/internal/shared/eventbus"
	"ctf-forge/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Bus 事件/控制总线
	Bus eventbus.JobBus

	// Results 生成结果存储（SQLite），可为 nil（cmd/generator 不落库）
	Results *storage.ResultStore
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Bus != nil {
		if err := i.Bus.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Results != nil {
		if err := i.Results.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Bus: eventbus.NewNoOpBus(),
	}
}
