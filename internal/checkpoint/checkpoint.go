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

// Package checkpoint 翻译断点续传：按 (job_id, target_language) 持久化
// 已完成分块的译文，重试时跳过已完成部分。
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"subrelay/internal/subtitle"
)

// ErrNotFound 指定 (job_id, target_language) 无检查点
var ErrNotFound = errors.New("checkpoint: not found")

// SourceFingerprint 标识翻译输入：源文件路径 + 语言对。
// 指纹不符的检查点视为陈旧，必须丢弃。
func SourceFingerprint(subtitlePath, sourceLang, targetLang string) string {
	h := sha256.Sum256([]byte(subtitlePath + "|" + sourceLang + "|" + targetLang))
	return hex.EncodeToString(h[:])
}

// Checkpoint 单个翻译任务的进度快照
type Checkpoint struct {
	JobID          string                     `json:"job_id"`
	TargetLanguage string                     `json:"target_language"`
	Fingerprint    string                     `json:"fingerprint"`
	TotalChunks    int                        `json:"total_chunks"`
	Chunks         map[int][]subtitle.Segment `json:"chunks"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// New 创建空检查点
func New(jobID, targetLang, fingerprint string, totalChunks int) *Checkpoint {
	return &Checkpoint{
		JobID:          jobID,
		TargetLanguage: targetLang,
		Fingerprint:    fingerprint,
		TotalChunks:    totalChunks,
		Chunks:         make(map[int][]subtitle.Segment),
	}
}

// MarkChunk 记录一个分块的译文
func (c *Checkpoint) MarkChunk(index int, segments []subtitle.Segment) {
	if c.Chunks == nil {
		c.Chunks = make(map[int][]subtitle.Segment)
	}
	c.Chunks[index] = segments
	c.UpdatedAt = time.Now().UTC()
}

// Done 分块是否已有译文
func (c *Checkpoint) Done(index int) bool {
	_, ok := c.Chunks[index]
	return ok
}

// CompletedChunks 已完成分块索引（升序）
func (c *Checkpoint) CompletedChunks() []int {
	idx := make([]int, 0, len(c.Chunks))
	for i := range c.Chunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Complete 全部分块均有译文
func (c *Checkpoint) Complete() bool {
	return c.TotalChunks > 0 && len(c.Chunks) >= c.TotalChunks
}

// Matches 校验检查点是否对应当前输入；指纹或分块总数不符即陈旧
func (c *Checkpoint) Matches(fingerprint string, totalChunks int) bool {
	return c.Fingerprint == fingerprint && c.TotalChunks == totalChunks
}

// Store 检查点持久化。Save/Delete 失败不得中断翻译主流程，
// 调用方按尽力而为处理。
type Store interface {
	// Load 读取检查点；不存在时返回 ErrNotFound
	Load(ctx context.Context, jobID, targetLang string) (*Checkpoint, error)
	// Save 覆盖写入
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete 删除；不存在时静默成功
	Delete(ctx context.Context, jobID, targetLang string) error
	// Close 释放连接
	Close() error
}
