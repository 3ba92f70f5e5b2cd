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

package worker

import (
	"context"
	stderrors "errors"

	"subrelay/internal/jobstore"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

// claimPhase 把 Job 推进到处理中相位。返回三态：
//   - proceed=true：正常接管；
//   - proceed=false 且 current 为空：Job 已终态，重复投递，调用方直接 ack；
//   - proceed=false 且 current 非空：相位已前移但未终态（落账与 ack 之间崩溃、
//     或接力入队失败后重投），调用方按记录状态接力剩余动作。
func claimPhase(ctx context.Context, store jobstore.Store, jobID string, phase jobstore.Phase, source string, logger *log.Logger) (proceed bool, current *jobstore.Job, err error) {
	_, err = store.UpdatePhase(ctx, jobID, phase, source, nil)
	if err == nil {
		return true, nil, nil
	}
	if stderrors.Is(err, jobstore.ErrPhaseRegression) {
		job, getErr := store.GetJob(ctx, jobID)
		if getErr != nil {
			return false, nil, errors.Transient("read job after phase conflict", getErr)
		}
		if job.Phase.Terminal() {
			logger.Info("任务已终态，忽略重复投递", "job_id", jobID, "phase", string(job.Phase))
			return false, nil, nil
		}
		logger.Info("相位已前移，按记录状态接力", "job_id", jobID, "phase", string(job.Phase))
		return false, job, nil
	}
	return false, nil, err
}
