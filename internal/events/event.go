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

// Package events 生命周期事件：topic exchange subtitle.events 上的
// 发布与订阅，routing key 即事件类型。
package events

import (
	"time"

	"github.com/google/uuid"
)

// Exchange 事件总线的 topic exchange（durable）
const Exchange = "subtitle.events"

// Type 事件类型，封闭集合
type Type string

const (
	MediaFileDetected  Type = "media.file.detected"
	SubtitleRequested  Type = "subtitle.requested"
	DownloadRequested  Type = "subtitle.download.requested"
	DownloadCompleted  Type = "subtitle.download.completed"
	DownloadFailed     Type = "subtitle.download.failed"
	TranslateRequested Type = "subtitle.translate.requested"
	TranslateCompleted Type = "subtitle.translate.completed"
	TranslateFailed    Type = "subtitle.translate.failed"
	JobCompleted       Type = "job.completed"
	JobFailed          Type = "job.failed"
)

var validTypes = map[Type]struct{}{
	MediaFileDetected:  {},
	SubtitleRequested:  {},
	DownloadRequested:  {},
	DownloadCompleted:  {},
	DownloadFailed:     {},
	TranslateRequested: {},
	TranslateCompleted: {},
	TranslateFailed:    {},
	JobCompleted:       {},
	JobFailed:          {},
}

// Valid 类型是否属于封闭集合
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Event 生命周期事件载荷
type Event struct {
	ID        string         `json:"event_id"`
	Type      Type           `json:"event_type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source_component"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New 构造事件并补全 ID 与时间戳
func New(t Type, jobID, source string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   payload,
	}
}
