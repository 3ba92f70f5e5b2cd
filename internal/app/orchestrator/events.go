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

package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"subrelay/internal/events"
	"subrelay/internal/jobstore"
)

const eventQueue = "subtitle.events.orchestrator"

// runEventConsumer 消费生命周期事件并把阶段确认写回任务记录。
// 工作进程是阶段的第一写入方，这里只做幂等确认：
// 同阶段与回退写入都按已处理跳过。
func (a *App) runEventConsumer(ctx context.Context) {
	consumer := events.NewConsumer(a.client, eventQueue, "#", a.logger)
	consumer.On(events.DownloadCompleted, a.confirmPhase(jobstore.PhaseDownloadCompleted))
	consumer.On(events.TranslateCompleted, a.confirmPhase(jobstore.PhaseCompleted))
	consumer.On(events.JobCompleted, a.confirmPhase(jobstore.PhaseCompleted))
	consumer.On(events.DownloadFailed, a.confirmFailed("download"))
	consumer.On(events.TranslateFailed, a.confirmFailed("translate"))
	consumer.On(events.JobFailed, a.confirmFailed("job"))

	for {
		err := consumer.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		a.logger.Warn("事件消费中断，准备重连", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// confirmPhase 幂等阶段确认：工作进程已写入时这里是空操作
func (a *App) confirmPhase(phase jobstore.Phase) events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		_, err := a.store.UpdatePhase(ctx, evt.JobID, phase, sourceOrchestrator, nil)
		if err == nil {
			return nil
		}
		if stderrors.Is(err, jobstore.ErrPhaseRegression) || stderrors.Is(err, jobstore.ErrJobNotFound) {
			return nil
		}
		return err
	}
}

// confirmFailed 失败事件落账，携带原因
func (a *App) confirmFailed(stage string) events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		meta := map[string]string{"failed_stage": stage}
		if reason, ok := evt.Payload["reason"].(string); ok {
			meta["error"] = reason
		}
		_, err := a.store.UpdatePhase(ctx, evt.JobID, jobstore.PhaseFailed, sourceOrchestrator, meta)
		if err == nil {
			return nil
		}
		if stderrors.Is(err, jobstore.ErrPhaseRegression) || stderrors.Is(err, jobstore.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("confirm failure for %s: %w", evt.JobID, err)
	}
}
