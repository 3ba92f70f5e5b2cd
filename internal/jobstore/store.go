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

package jobstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobExists SaveJob 时 job_id 已存在
	ErrJobExists = errors.New("jobstore: job already exists")
	// ErrJobNotFound GetJob/UpdatePhase 未找到记录
	ErrJobNotFound = errors.New("jobstore: job not found")
	// ErrPhaseRegression 非法相位迁移（成功路径回退或终态后继）
	ErrPhaseRegression = errors.New("jobstore: illegal phase transition")
)

// TTLPolicy 终态记录保留策略；活跃 Job 不过期
type TTLPolicy struct {
	Completed time.Duration // 成功终态，默认 7 天
	Failed    time.Duration // 失败终态，默认 3 天
}

// DefaultTTLPolicy 默认保留时长
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Completed: 7 * 24 * time.Hour, Failed: 3 * 24 * time.Hour}
}

// Store Job 键值存储。相位推进必须经 UpdatePhase（单写者 API），
// 各 Worker 不得自行改写 Phase 字段。
type Store interface {
	// SaveJob 新建记录；job_id 已存在时返回 ErrJobExists
	SaveJob(ctx context.Context, job *Job) error
	// GetJob 返回记录；不存在时返回 ErrJobNotFound
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// UpdatePhase 幂等相位推进：校验迁移合法性、追加审计、终态时应用 TTL 策略。
	// metadata 合并进 Job.Metadata；error_message 经 metadata["error"] 传入
	UpdatePhase(ctx context.Context, jobID string, phase Phase, source string, metadata map[string]string) (*Job, error)
	// EnsureConnected 幂等连接检查；消费循环健康检查用
	EnsureConnected(ctx context.Context) error
	// Close 释放连接
	Close() error
}
