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
	"sort"
)

// MergeTranslations 将一个 chunk 的译文写回段落。条数相等时逐一配对；
// 恰好缺一条且给出 parsedNumbers（模型实际返回的 1 起始编号）时，缺口回填原文；
// 其余不匹配返回 ErrCountMismatch（瞬时，重试引擎会重发该 chunk）。
func MergeTranslations(originals []Segment, translations []string, parsedNumbers []int) ([]Segment, error) {
	out := make([]Segment, len(originals))
	copy(out, originals)

	switch {
	case len(translations) == len(originals):
		for i := range out {
			out[i].Text = translations[i]
		}
		return out, nil

	case len(translations) == len(originals)-1 && len(parsedNumbers) == len(translations):
		present := make(map[int]bool, len(parsedNumbers))
		for _, n := range parsedNumbers {
			present[n] = true
		}
		missing := 0
		for n := 1; n <= len(originals); n++ {
			if !present[n] {
				missing = n
				break
			}
		}
		if missing == 0 {
			return nil, countMismatch(len(originals), len(translations))
		}
		ti := 0
		for i := range out {
			if i+1 == missing {
				continue // 缺口保留原文
			}
			out[i].Text = translations[ti]
			ti++
		}
		return out, nil

	default:
		return nil, countMismatch(len(originals), len(translations))
	}
}

// MergeTranslatedChunks 汇总全部已翻译段落：按原始序号稳定排序后从 1 重新紧密编号
func MergeTranslatedChunks(all []Segment) []Segment {
	out := make([]Segment, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}
