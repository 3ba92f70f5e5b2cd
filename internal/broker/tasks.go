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

package broker

import (
	"context"
	"encoding/json"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

// DownloadTask 下载队列消息
type DownloadTask struct {
	JobID            string   `json:"job_id"`
	VideoURL         string   `json:"video_url"`
	VideoTitle       string   `json:"video_title"`
	Language         string   `json:"language"`
	PreferredSources []string `json:"preferred_sources,omitempty"`
}

// Validate 必填字段检查
func (t *DownloadTask) Validate() error {
	if t.JobID == "" || t.VideoURL == "" || t.Language == "" {
		return errors.Wrapf(errors.ErrInvalidArg, "download task job_id=%q", t.JobID)
	}
	return nil
}

// TranslationTask 翻译队列消息
type TranslationTask struct {
	JobID            string `json:"job_id"`
	SubtitleFilePath string `json:"subtitle_file_path"`
	SourceLanguage   string `json:"source_language"`
	TargetLanguage   string `json:"target_language"`
}

// Validate 必填字段检查
func (t *TranslationTask) Validate() error {
	if t.JobID == "" || t.SubtitleFilePath == "" || t.TargetLanguage == "" {
		return errors.Wrapf(errors.ErrInvalidArg, "translation task job_id=%q", t.JobID)
	}
	return nil
}

// TaskQueue 任务入队。broker 连接不可恢复时进入 mock 模式：
// 任务只写日志不发布，调用方照常得到成功，启动流程不被 broker 可用性阻塞。
type TaskQueue struct {
	client *Client
	logger *log.Logger
}

// NewTaskQueue 创建任务入队器
func NewTaskQueue(client *Client, logger *log.Logger) *TaskQueue {
	return &TaskQueue{client: client, logger: logger.Component("taskqueue")}
}

// EnqueueDownload 发布下载任务到 subtitle.download
func (q *TaskQueue) EnqueueDownload(ctx context.Context, task DownloadTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.publish(ctx, QueueDownload, task.JobID, task)
}

// EnqueueTranslation 发布翻译任务到 subtitle.translation
func (q *TaskQueue) EnqueueTranslation(ctx context.Context, task TranslationTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.publish(ctx, QueueTranslation, task.JobID, task)
}

func (q *TaskQueue) publish(ctx context.Context, queue, jobID string, task any) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	if err := q.client.EnsureConnected(ctx); err != nil {
		q.logger.Warn("broker 不可达，任务进入 mock 模式（仅记录不发布）",
			"queue", queue,
			"job_id", jobID,
			"task", string(body),
			"error", err)
		return nil
	}
	if err := q.client.Publish(ctx, queue, body); err != nil {
		return err
	}
	q.logger.Info("任务已入队", "queue", queue, "job_id", jobID)
	return nil
}

// Status 两个任务队列的 broker 侧消息数
func (q *TaskQueue) Status(ctx context.Context) ([]QueueStatus, error) {
	return q.client.InspectQueues(ctx)
}
