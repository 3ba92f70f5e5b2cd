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

package catalog

import (
	"sort"
	"strings"
)

// Best 确定性候选择优：哈希命中 > 语言命中 > 下载量降序 >
// 上传时间降序 > ID 升序。返回 false 表示无语言命中的候选。
func Best(candidates []Subtitle, language string) (Subtitle, bool) {
	matched := make([]Subtitle, 0, len(candidates))
	for _, c := range candidates {
		if strings.EqualFold(c.Language, language) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return Subtitle{}, false
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.MatchedByHash != b.MatchedByHash {
			return a.MatchedByHash
		}
		if a.DownloadCount != b.DownloadCount {
			return a.DownloadCount > b.DownloadCount
		}
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.After(b.UploadedAt)
		}
		return a.ID < b.ID
	})
	return matched[0], true
}
