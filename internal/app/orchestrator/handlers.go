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
	"bytes"
	"context"
	stderrors "errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"subrelay/internal/broker"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/metrics"
)

func (a *App) registerRoutes() {
	api := a.hertz.Group("/api")
	api.POST("/jobs", a.handleCreateJob)
	api.GET("/jobs/:id", a.handleGetJob)

	sys := api.Group("/system")
	sys.GET("/queues", a.handleQueues)
	sys.GET("/health", a.handleHealth)
	sys.GET("/metrics", a.handleMetrics)
}

// createJobRequest 字幕获取请求
type createJobRequest struct {
	VideoURL         string   `json:"video_url"`
	VideoTitle       string   `json:"video_title"`
	SourceLanguage   string   `json:"source_language"`
	TargetLanguage   string   `json:"target_language"`
	PreferredSources []string `json:"preferred_sources"`
}

// handleCreateJob 提交任务：去重、建档、下载任务入队
// POST /api/jobs
func (a *App) handleCreateJob(c context.Context, ctx *app.RequestContext) {
	var req createJobRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.VideoURL == "" || req.SourceLanguage == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "video_url and source_language are required"})
		return
	}

	jobID := uuid.NewString()
	fp := jobstore.Fingerprint(req.VideoURL, req.SourceLanguage, req.TargetLanguage)
	if dup := a.deduper.CheckAndRegister(c, fp, jobID); dup.IsDuplicate {
		a.logger.Info("重复请求拦截", "existing_job_id", dup.ExistingJobID)
		ctx.JSON(consts.StatusOK, map[string]any{
			"job_id":    dup.ExistingJobID,
			"duplicate": true,
		})
		return
	}

	job := &jobstore.Job{
		ID:             jobID,
		VideoURL:       req.VideoURL,
		VideoTitle:     req.VideoTitle,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
	}
	if err := a.store.SaveJob(c, job); err != nil {
		a.logger.Error("任务建档失败", "job_id", jobID, "error", err)
		// 撤销指纹，失败的请求不能在整个去重窗口内挡住重试
		a.deduper.Release(c, fp, jobID)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to persist job"})
		return
	}
	a.bus.Publish(c, events.SubtitleRequested, jobID, map[string]any{
		"video_url":       req.VideoURL,
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
	})

	task := broker.DownloadTask{
		JobID:            jobID,
		VideoURL:         req.VideoURL,
		VideoTitle:       req.VideoTitle,
		Language:         req.SourceLanguage,
		PreferredSources: req.PreferredSources,
	}
	if err := a.tasks.EnqueueDownload(c, task); err != nil {
		a.logger.Error("下载任务入队失败", "job_id", jobID, "error", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to enqueue download task"})
		return
	}
	a.bus.Publish(c, events.DownloadRequested, jobID, map[string]any{"language": req.SourceLanguage})

	ctx.JSON(consts.StatusAccepted, map[string]any{
		"job_id": jobID,
		"phase":  string(jobstore.PhasePending),
	})
}

// handleGetJob 查询任务记录
// GET /api/jobs/:id
func (a *App) handleGetJob(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	job, err := a.store.GetJob(c, jobID)
	if err != nil {
		if stderrors.Is(err, jobstore.ErrJobNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, job)
}

// handleQueues 两个任务队列的 broker 侧消息数
// GET /api/system/queues
func (a *App) handleQueues(c context.Context, ctx *app.RequestContext) {
	statuses, err := a.tasks.Status(c)
	if err != nil {
		ctx.JSON(consts.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{"queues": statuses})
}

// handleHealth broker 与存储双探测
// GET /api/system/health
func (a *App) handleHealth(c context.Context, ctx *app.RequestContext) {
	health := map[string]string{"broker": "ok", "store": "ok"}
	code := consts.StatusOK
	if err := a.client.EnsureConnected(c); err != nil {
		health["broker"] = err.Error()
		code = consts.StatusServiceUnavailable
	}
	if err := a.store.EnsureConnected(c); err != nil {
		health["store"] = err.Error()
		code = consts.StatusServiceUnavailable
	}
	ctx.JSON(code, health)
}

// handleMetrics Prometheus 文本格式
// GET /api/system/metrics
func (a *App) handleMetrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}
