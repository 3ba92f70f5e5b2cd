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
	"path/filepath"
	"time"

	"subrelay/internal/broker"
	"subrelay/internal/catalog"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/tracing"
)

// Catalog 下载处理器用到的目录客户端能力
type Catalog interface {
	Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.Subtitle, error)
	SearchByHash(ctx context.Context, hash string, fileSize int64, languages []string) ([]catalog.Subtitle, error)
	Download(ctx context.Context, subtitleID, outputPath string) (string, error)
}

// EventSink 生命周期事件出口
type EventSink interface {
	Publish(ctx context.Context, t events.Type, jobID string, payload map[string]any)
}

// TranslationEnqueuer 下载完成后的翻译任务入队
type TranslationEnqueuer interface {
	EnqueueTranslation(ctx context.Context, task broker.TranslationTask) error
}

// DownloadHandler 下载任务处理：检索候选、择优下载、按需接力翻译
type DownloadHandler struct {
	store        jobstore.Store
	catalog      Catalog
	tasks        TranslationEnqueuer
	bus          EventSink
	subtitlePath string
	logger       *log.Logger
}

// NewDownloadHandler 创建下载处理器
func NewDownloadHandler(store jobstore.Store, cat Catalog, tasks TranslationEnqueuer, bus EventSink, subtitlePath string, logger *log.Logger) *DownloadHandler {
	return &DownloadHandler{
		store:        store,
		catalog:      cat,
		tasks:        tasks,
		bus:          bus,
		subtitlePath: subtitlePath,
		logger:       logger.Component("download"),
	}
}

const sourceDownloadWorker = "download-worker"

// Handle 处理一条下载任务
func (h *DownloadHandler) Handle(ctx context.Context, body []byte) error {
	var task broker.DownloadTask
	if err := json.Unmarshal(body, &task); err != nil {
		return errors.Permanent("decode download task", err)
	}
	if err := task.Validate(); err != nil {
		return errors.Permanent("invalid download task", err)
	}

	start := time.Now()
	proceed, current, err := claimPhase(ctx, h.store, task.JobID, jobstore.PhaseDownloadInProgress, sourceDownloadWorker, h.logger)
	if err != nil {
		return err
	}
	if !proceed {
		if current == nil {
			return nil
		}
		return h.resume(ctx, task, current)
	}
	ctx, span := tracing.StartJobSpan(ctx, task.JobID, "download")
	defer span.End()

	outputPath, err := h.download(ctx, task)
	if err != nil {
		return h.fail(ctx, task.JobID, "download", err)
	}
	metrics.JobDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())

	if _, err := h.store.UpdatePhase(ctx, task.JobID, jobstore.PhaseDownloadCompleted, sourceDownloadWorker,
		map[string]string{"subtitle_path": outputPath}); err != nil {
		return err
	}
	h.bus.Publish(ctx, events.DownloadCompleted, task.JobID, map[string]any{
		"file_path": outputPath,
		"language":  task.Language,
	})

	job, err := h.store.GetJob(ctx, task.JobID)
	if err != nil {
		return err
	}
	return h.chain(ctx, task, job, outputPath)
}

// resume 相位已是 DOWNLOAD_COMPLETED 的重投：产物已落盘，
// 不重复下载，只补发接力动作（翻译入队或完结）。
// 翻译侧已接管（TRANSLATE_IN_PROGRESS）时无事可做。
func (h *DownloadHandler) resume(ctx context.Context, task broker.DownloadTask, job *jobstore.Job) error {
	if job.Phase != jobstore.PhaseDownloadCompleted {
		return nil
	}
	outputPath := job.Metadata["subtitle_path"]
	if outputPath == "" {
		return h.fail(ctx, task.JobID, "download",
			errors.Permanentf("job %s in phase %s without subtitle_path", task.JobID, string(job.Phase)))
	}
	h.logger.Info("重投接力", "job_id", task.JobID, "path", outputPath)
	return h.chain(ctx, task, job, outputPath)
}

// chain 下载落盘后的接力：需要翻译则入队，否则完结任务
func (h *DownloadHandler) chain(ctx context.Context, task broker.DownloadTask, job *jobstore.Job, outputPath string) error {
	if job.NeedsTranslation() {
		translation := broker.TranslationTask{
			JobID:            task.JobID,
			SubtitleFilePath: outputPath,
			SourceLanguage:   task.Language,
			TargetLanguage:   job.TargetLanguage,
		}
		if err := h.tasks.EnqueueTranslation(ctx, translation); err != nil {
			return h.fail(ctx, task.JobID, "download", err)
		}
		h.bus.Publish(ctx, events.TranslateRequested, task.JobID, map[string]any{
			"file_path":       outputPath,
			"source_language": task.Language,
			"target_language": job.TargetLanguage,
		})
		h.logger.Info("下载完成，已接力翻译", "job_id", task.JobID, "target_language", job.TargetLanguage)
		return nil
	}

	if _, err := h.store.UpdatePhase(ctx, task.JobID, jobstore.PhaseCompleted, sourceDownloadWorker, nil); err != nil {
		return err
	}
	h.bus.Publish(ctx, events.JobCompleted, task.JobID, map[string]any{"file_path": outputPath})
	metrics.JobTotal.WithLabelValues("completed").Inc()
	h.logger.Info("下载完成", "job_id", task.JobID, "path", outputPath)
	return nil
}

// download 解析候选并落盘；优先哈希精确匹配，退化为标题检索
func (h *DownloadHandler) download(ctx context.Context, task broker.DownloadTask) (string, error) {
	languages := []string{task.Language}
	var candidates []catalog.Subtitle

	if hash, size, err := catalog.MovieHash(task.VideoURL); err == nil {
		candidates, err = h.catalog.SearchByHash(ctx, hash, size, languages)
		if err != nil {
			return "", err
		}
	} else {
		h.logger.Debug("文件哈希不可用，转标题检索", "job_id", task.JobID, "error", err)
	}
	if len(candidates) == 0 {
		query := task.VideoTitle
		if query == "" {
			query = filepath.Base(task.VideoURL)
		}
		var err error
		candidates, err = h.catalog.Search(ctx, catalog.SearchQuery{Query: query, Languages: languages})
		if err != nil {
			return "", err
		}
	}

	best, ok := catalog.Best(candidates, task.Language)
	if !ok {
		return "", errors.Permanentf("no subtitle candidate for job %s in language %s", task.JobID, task.Language)
	}
	outputPath := filepath.Join(h.subtitlePath, task.JobID+"."+task.Language+".srt")
	return h.catalog.Download(ctx, best.ID, outputPath)
}

// fail 永久失败落账；瞬时错误原样上抛交给重投
func (h *DownloadHandler) fail(ctx context.Context, jobID, stage string, err error) error {
	if ctx.Err() != nil || !errors.IsPermanent(err) {
		return err
	}
	if _, updErr := h.store.UpdatePhase(ctx, jobID, jobstore.PhaseFailed, sourceDownloadWorker,
		map[string]string{"error": err.Error()}); updErr != nil {
		h.logger.Error("失败落账未成功", "job_id", jobID, "error", updErr)
	}
	h.bus.Publish(ctx, events.DownloadFailed, jobID, map[string]any{"reason": err.Error()})
	h.bus.Publish(ctx, events.JobFailed, jobID, map[string]any{"stage": stage, "reason": err.Error()})
	metrics.JobTotal.WithLabelValues("failed").Inc()
	metrics.JobFailTotal.WithLabelValues(stage).Inc()
	return err
}
