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

// Package jobstore Job 持久化（键值存储）：单写者相位推进、TTL 策略与去重子服务
package jobstore

import (
	"time"
)

// Phase Job 生命周期相位
type Phase string

const (
	PhasePending             Phase = "PENDING"
	PhaseDownloadInProgress  Phase = "DOWNLOAD_IN_PROGRESS"
	PhaseDownloadCompleted   Phase = "DOWNLOAD_COMPLETED"
	PhaseTranslateInProgress Phase = "TRANSLATE_IN_PROGRESS"
	PhaseCompleted           Phase = "COMPLETED"
	PhaseFailed              Phase = "FAILED"
)

// phaseRank 成功路径上的单调序；FAILED 不在序内（可自任意非终态进入）
var phaseRank = map[Phase]int{
	PhasePending:             0,
	PhaseDownloadInProgress:  1,
	PhaseDownloadCompleted:   2,
	PhaseTranslateInProgress: 3,
	PhaseCompleted:           4,
}

// Terminal 是否终态
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Valid 是否已知相位
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok || p == PhaseFailed
}

// CanTransition from → to 是否合法：终态后无后继；FAILED 可自任意非终态进入；
// 成功路径只能前进
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	fr, ok1 := phaseRank[from]
	tr, ok2 := phaseRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// PhaseChange 审计记录：谁在何时把 Job 推到了哪个相位
type PhaseChange struct {
	Phase  Phase     `json:"phase"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Job 一次字幕获取（及可选翻译）的持久化单元
type Job struct {
	ID             string            `json:"id"`
	VideoURL       string            `json:"video_url"`
	VideoTitle     string            `json:"video_title"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language,omitempty"`
	Phase          Phase             `json:"phase"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Audit          []PhaseChange     `json:"audit,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NeedsTranslation 是否要求目标语言且与源语言不同
func (j *Job) NeedsTranslation() bool {
	return j.TargetLanguage != "" && j.TargetLanguage != j.SourceLanguage
}
