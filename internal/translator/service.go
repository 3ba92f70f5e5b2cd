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

package translator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"subrelay/internal/checkpoint"
	"subrelay/internal/subtitle"
	"subrelay/internal/tokens"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/tracing"
)

// BatchTranslator 单批翻译能力；测试以桩实现注入
type BatchTranslator interface {
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) (*BatchResult, error)
}

// ServiceConfig 分块与并行参数
type ServiceConfig struct {
	Model               string
	MaxTokensPerChunk   int
	TokenSafetyMargin   float64
	MaxSegmentsPerChunk int
	ParallelRequests    int
	SubtitlePath        string
}

// Service 整文件翻译：解析、切块、带检查点的有界并行批翻译、
// 合并落盘。
type Service struct {
	client      BatchTranslator
	counter     *tokens.Counter
	checkpoints *checkpoint.Manager
	cfg         ServiceConfig
	logger      *log.Logger
}

// NewService 创建翻译服务
func NewService(client BatchTranslator, counter *tokens.Counter, checkpoints *checkpoint.Manager, cfg ServiceConfig, logger *log.Logger) *Service {
	if cfg.ParallelRequests <= 0 {
		cfg.ParallelRequests = 3
	}
	return &Service{
		client:      client,
		counter:     counter,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      logger.Component("translator"),
	}
}

type chunkOutcome struct {
	index    int
	segments []subtitle.Segment
	err      error
}

// TranslateFile 翻译整个字幕文件，返回产物路径。
// 失败时已完成分块的进度留在检查点里，消息重投后续传。
func (s *Service) TranslateFile(ctx context.Context, jobID, subtitlePath, sourceLang, targetLang string) (string, error) {
	raw, err := os.ReadFile(subtitlePath)
	if err != nil {
		return "", errors.Permanent("read subtitle", err)
	}
	segments, skipped := subtitle.Parse(string(raw))
	if skipped > 0 {
		s.logger.Warn("解析跳过畸形条目", "job_id", jobID, "skipped", skipped)
	}
	if len(segments) == 0 {
		return "", errors.Permanentf("translate %s: no parsable segments", subtitlePath)
	}

	chunks := subtitle.Split(segments, subtitle.SplitOptions{
		MaxTokens:    s.cfg.MaxTokensPerChunk,
		Model:        s.cfg.Model,
		SafetyMargin: s.cfg.TokenSafetyMargin,
		MaxSegments:  s.cfg.MaxSegmentsPerChunk,
	}, s.counter)

	fp := checkpoint.SourceFingerprint(subtitlePath, sourceLang, targetLang)
	cp, resumed := s.checkpoints.Resume(ctx, jobID, targetLang, fp, len(chunks))
	if resumed {
		s.logger.Info("跳过已完成分块",
			"job_id", jobID,
			"completed", len(cp.CompletedChunks()),
			"total", len(chunks))
	}

	// 进度由 translateChunks 按波次落盘，失败重投后从检查点续传
	if err := s.translateChunks(ctx, jobID, sourceLang, targetLang, chunks, cp); err != nil {
		return "", err
	}

	var all []subtitle.Segment
	for _, idx := range cp.CompletedChunks() {
		all = append(all, cp.Chunks[idx]...)
	}
	merged := subtitle.MergeTranslatedChunks(all)

	outputPath := filepath.Join(s.cfg.SubtitlePath, jobID+"."+targetLang+".srt")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	if err := os.WriteFile(outputPath, []byte(subtitle.Format(merged)), 0o644); err != nil {
		return "", errors.Wrap(err, "write translated subtitle")
	}

	s.checkpoints.Finish(ctx, jobID, targetLang)
	s.logger.Info("翻译完成",
		"job_id", jobID,
		"segments", len(merged),
		"chunks", len(chunks),
		"output", outputPath)
	return outputPath, nil
}

// translateChunks 按波次（每波至多 ParallelRequests 个分块）并行翻译未完成
// 分块，每波结束即把进度落盘，进程中途被杀时已完成分块可续传。
// 单波失败不中止后续波次（其余分块的成果同样留存），最终上抛首个错误；
// ctx 取消时停止派发新波次。
func (s *Service) translateChunks(ctx context.Context, jobID, sourceLang, targetLang string, chunks []subtitle.Chunk, cp *checkpoint.Checkpoint) error {
	pending := make([]subtitle.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if !cp.Done(chunk.Index) {
			pending = append(pending, chunk)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var failed []int
	var firstErr error
	for start := 0; start < len(pending); start += s.cfg.ParallelRequests {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		wave := pending[start:min(start+s.cfg.ParallelRequests, len(pending))]
		for _, out := range s.translateWave(ctx, jobID, sourceLang, targetLang, wave) {
			if out.err != nil {
				failed = append(failed, out.index)
				if firstErr == nil {
					firstErr = out.err
				}
				continue
			}
			cp.MarkChunk(out.index, out.segments)
		}
		s.checkpoints.Persist(ctx, cp)
	}
	if firstErr != nil {
		s.logger.Error("分块翻译失败",
			"job_id", jobID,
			"failed_chunks", failed,
			"error", firstErr)
		return firstErr
	}
	return nil
}

// translateWave 并行翻译一波分块，结果按分块索引排序
func (s *Service) translateWave(ctx context.Context, jobID, sourceLang, targetLang string, wave []subtitle.Chunk) []chunkOutcome {
	results := make(chan chunkOutcome, len(wave))
	for _, chunk := range wave {
		chunk := chunk
		go func() {
			segs, err := s.translateChunk(ctx, jobID, sourceLang, targetLang, chunk)
			results <- chunkOutcome{index: chunk.Index, segments: segs, err: err}
		}()
	}
	outcomes := make([]chunkOutcome, 0, len(wave))
	for range wave {
		outcomes = append(outcomes, <-results)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	return outcomes
}

func (s *Service) translateChunk(ctx context.Context, jobID, sourceLang, targetLang string, chunk subtitle.Chunk) ([]subtitle.Segment, error) {
	ctx, span := tracing.StartChunkSpan(ctx, jobID, chunk.Index)
	defer span.End()
	start := time.Now()
	texts := make([]string, len(chunk.Segments))
	for i, seg := range chunk.Segments {
		texts[i] = seg.Text
	}
	result, err := s.client.TranslateBatch(ctx, texts, sourceLang, targetLang)
	if err != nil {
		return nil, err
	}
	merged, err := subtitle.MergeTranslations(chunk.Segments, result.Translations, result.ParsedNumbers)
	if err != nil {
		return nil, err
	}
	metrics.ChunkDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("分块翻译完成",
		"job_id", jobID,
		"chunk", chunk.Index,
		"segments", len(merged),
		"elapsed", time.Since(start).String())
	return merged, nil
}
