// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"errors"

	"subrelay/pkg/log"
)

// Manager 断点续传策略层：校验、持久化与清理均尽力而为，
// 任何存储故障只降级为从头翻译，不中断任务。
type Manager struct {
	store   Store
	enabled bool
	cleanup bool
	logger  *log.Logger
}

// NewManager 创建检查点管理器。enabled=false 时 Resume 恒返回新检查点，
// cleanup=false 时任务完成后保留记录（排障用）。
func NewManager(store Store, enabled, cleanup bool, logger *log.Logger) *Manager {
	return &Manager{store: store, enabled: enabled, cleanup: cleanup, logger: logger.Component("checkpoint")}
}

// Enabled 断点续传是否启用
func (m *Manager) Enabled() bool { return m.enabled }

// Resume 装载并校验检查点。返回的 resumed 为 true 表示存在可续传进度；
// 指纹或分块总数不符的陈旧检查点被丢弃并重建。
func (m *Manager) Resume(ctx context.Context, jobID, targetLang, fingerprint string, totalChunks int) (cp *Checkpoint, resumed bool) {
	fresh := New(jobID, targetLang, fingerprint, totalChunks)
	if !m.enabled {
		return fresh, false
	}

	existing, err := m.store.Load(ctx, jobID, targetLang)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("检查点读取失败，从头翻译", "job_id", jobID, "error", err)
		}
		return fresh, false
	}
	if !existing.Matches(fingerprint, totalChunks) {
		m.logger.Info("检查点与当前输入不符，丢弃",
			"job_id", jobID,
			"checkpoint_chunks", existing.TotalChunks,
			"current_chunks", totalChunks)
		_ = m.store.Delete(ctx, jobID, targetLang)
		return fresh, false
	}
	if len(existing.Chunks) == 0 {
		return fresh, false
	}
	m.logger.Info("从检查点续传",
		"job_id", jobID,
		"completed", len(existing.Chunks),
		"total", existing.TotalChunks)
	return existing, true
}

// Persist 保存当前进度；失败只记日志
func (m *Manager) Persist(ctx context.Context, cp *Checkpoint) {
	if !m.enabled {
		return
	}
	if err := m.store.Save(ctx, cp); err != nil {
		m.logger.Warn("检查点保存失败", "job_id", cp.JobID, "error", err)
	}
}

// Finish 任务成功后的清理；cleanup=false 时保留
func (m *Manager) Finish(ctx context.Context, jobID, targetLang string) {
	if !m.enabled || !m.cleanup {
		return
	}
	if err := m.store.Delete(ctx, jobID, targetLang); err != nil {
		m.logger.Warn("检查点清理失败", "job_id", jobID, "error", err)
	}
}
