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

package subtitle

import (
	"subrelay/internal/tokens"
)

// SplitOptions 切片参数
type SplitOptions struct {
	MaxTokens     int     // 单 chunk token 预算（margin 之前）
	Model         string  // token 计数用模型名
	SafetyMargin  float64 // 预算安全系数，(0,1]
	MaxSegments   int     // 单 chunk 最大段数
}

// Split 按 token 预算与段数上限切片；段落顺序保持输入顺序，单段不跨 chunk。
// 单段独自超预算时独占一个 chunk（调用方对此告警）。
func Split(segments []Segment, opts SplitOptions, counter *tokens.Counter) []Chunk {
	budget := int(float64(opts.MaxTokens) * opts.SafetyMargin)
	if budget < 1 {
		budget = 1
	}
	maxSegs := opts.MaxSegments
	if maxSegs < 1 {
		maxSegs = 1
	}

	var chunks []Chunk
	var cur []Segment
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Segments: cur})
		cur = nil
		curTokens = 0
	}

	for _, seg := range segments {
		n := counter.Count(seg.Text, opts.Model)
		if len(cur) > 0 && (curTokens+n > budget || len(cur) >= maxSegs) {
			flush()
		}
		cur = append(cur, seg)
		curTokens += n
		// 单段超预算：立即独占成块
		if len(cur) == 1 && curTokens > budget {
			flush()
		}
	}
	flush()
	return chunks
}

// OversizedChunks 返回独占且超预算的 chunk 序号，供调用方记录告警
func OversizedChunks(chunks []Chunk, opts SplitOptions, counter *tokens.Counter) []int {
	budget := int(float64(opts.MaxTokens) * opts.SafetyMargin)
	var out []int
	for _, c := range chunks {
		if len(c.Segments) != 1 {
			continue
		}
		if counter.Count(c.Segments[0].Text, opts.Model) > budget {
			out = append(out, c.Index)
		}
	}
	return out
}
