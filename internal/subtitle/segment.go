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

// Package subtitle SRT 解析、格式化、token 预算切片与翻译结果合并；纯函数，无 I/O
package subtitle

import (
	"fmt"

	"subrelay/pkg/errors"
)

// Segment 单条字幕：1 起始的序号、标准时间轴、正文（可含内联标记，原样保留）
type Segment struct {
	Index     int    `json:"index"`
	StartTime string `json:"start_time"` // HH:MM:SS,mmm
	EndTime   string `json:"end_time"`
	Text      string `json:"text"` // 多行正文以 \n 连接
}

// Chunk 一段连续字幕，单次翻译调用的单位
type Chunk struct {
	Index    int       `json:"index"`
	Segments []Segment `json:"segments"`
}

// ErrCountMismatch 翻译返回条数与请求不符（缺一条以上）；模型输出非确定，重试常可恢复，故为瞬时
var ErrCountMismatch = errors.Transient("translation count mismatch", nil)

// countMismatch 构造带数量信息的瞬时错误，errors.Is(err, ErrCountMismatch) 成立
func countMismatch(expected, got int) error {
	return &errors.Error{
		Kind: errors.KindTransient,
		Msg:  fmt.Sprintf("translation count mismatch: expected %d, got %d", expected, got),
		Err:  ErrCountMismatch,
	}
}
