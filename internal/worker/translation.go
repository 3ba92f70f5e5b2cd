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
	"encoding/json"
	"time"

	"subrelay/internal/broker"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/tracing"
)

// Translator 整文件翻译能力
type Translator interface {
	TranslateFile(ctx context.Context, jobID, subtitlePath, sourceLang, targetLang string) (string, error)
}

// TranslationHandler 翻译任务处理
type TranslationHandler struct {
	store   jobstore.Store
	service Translator
	bus     EventSink
	logger  *log.Logger
}

// NewTranslationHandler 创建翻译处理器
func NewTranslationHandler(store jobstore.Store, service Translator, bus EventSink, logger *log.Logger) *TranslationHandler {
	return &TranslationHandler{
		store:   store,
		service: service,
		bus:     bus,
		logger:  logger.Component("translation"),
	}
}

const sourceTranslationWorker = "translation-worker"

// Handle 处理一条翻译任务
func (h *TranslationHandler) Handle(ctx context.Context, body []byte) error {
	var task broker.TranslationTask
	if err := json.Unmarshal(body, &task); err != nil {
		return errors.Permanent("decode translation task", err)
	}
	if err := task.Validate(); err != nil {
		return errors.Permanent("invalid translation task", err)
	}

	start := time.Now()
	proceed, current, err := claimPhase(ctx, h.store, task.JobID, jobstore.PhaseTranslateInProgress, sourceTranslationWorker, h.logger)
	if err != nil {
		return err
	}
	if !proceed {
		// TRANSLATE_IN_PROGRESS 之后没有非终态相位，current 非空不应出现
		if current != nil {
			h.logger.Warn("相位异常前移，忽略重投", "job_id", task.JobID, "phase", string(current.Phase))
		}
		return nil
	}
	ctx, span := tracing.StartJobSpan(ctx, task.JobID, "translate")
	defer span.End()

	outputPath, err := h.service.TranslateFile(ctx, task.JobID, task.SubtitleFilePath, task.SourceLanguage, task.TargetLanguage)
	if err != nil {
		return h.fail(ctx, task.JobID, err)
	}
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues("translate").Observe(elapsed.Seconds())

	h.bus.Publish(ctx, events.TranslateCompleted, task.JobID, map[string]any{
		"file_path":       outputPath,
		"target_language": task.TargetLanguage,
		"duration_ms":     elapsed.Milliseconds(),
	})
	if _, err := h.store.UpdatePhase(ctx, task.JobID, jobstore.PhaseCompleted, sourceTranslationWorker,
		map[string]string{"translated_path": outputPath}); err != nil {
		return err
	}
	h.bus.Publish(ctx, events.JobCompleted, task.JobID, map[string]any{"file_path": outputPath})
	metrics.JobTotal.WithLabelValues("completed").Inc()
	h.logger.Info("翻译完成", "job_id", task.JobID, "path", outputPath, "elapsed", elapsed.String())
	return nil
}

// fail 永久失败落账；瞬时错误上抛，重投后经检查点续传
func (h *TranslationHandler) fail(ctx context.Context, jobID string, err error) error {
	if ctx.Err() != nil || !errors.IsPermanent(err) {
		return err
	}
	if _, updErr := h.store.UpdatePhase(ctx, jobID, jobstore.PhaseFailed, sourceTranslationWorker,
		map[string]string{"error": err.Error()}); updErr != nil {
		h.logger.Error("失败落账未成功", "job_id", jobID, "error", updErr)
	}
	h.bus.Publish(ctx, events.TranslateFailed, jobID, map[string]any{"reason": err.Error()})
	h.bus.Publish(ctx, events.JobFailed, jobID, map[string]any{"stage": "translate", "reason": err.Error()})
	metrics.JobTotal.WithLabelValues("failed").Inc()
	metrics.JobFailTotal.WithLabelValues("translate").Inc()
	return err
}
