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
	"regexp"
	"strconv"
	"strings"
)

var timestampLine = regexp.MustCompile(
	`^(\d{2}:\d{2}:\d{2},\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2},\d{3})$`)

// Parse 解析 SRT 文本：容忍起始 BOM 与 CRLF，时间轴损坏的块整块跳过，
// 返回解析出的段落与跳过的块数
func Parse(content string) ([]Segment, int) {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var segments []Segment
	skipped := 0
	lines := strings.Split(content, "\n")
	i := 0
	for i < len(lines) {
		// 跳过块间空行
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) {
			break
		}

		blockStart := i
		idx, err := strconv.Atoi(strings.TrimSpace(lines[i]))
		if err != nil || idx < 1 || i+1 >= len(lines) {
			i = skipBlock(lines, blockStart)
			skipped++
			continue
		}
		m := timestampLine.FindStringSubmatch(strings.TrimSpace(lines[i+1]))
		if m == nil {
			i = skipBlock(lines, blockStart)
			skipped++
			continue
		}

		i += 2
		var textLines []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			textLines = append(textLines, lines[i])
			i++
		}
		if len(textLines) == 0 {
			skipped++
			continue
		}
		segments = append(segments, Segment{
			Index:     idx,
			StartTime: m[1],
			EndTime:   m[2],
			Text:      strings.Join(textLines, "\n"),
		})
	}
	return segments, skipped
}

// skipBlock 跳到下一个空行之后
func skipBlock(lines []string, from int) int {
	i := from
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		i++
	}
	return i
}

// Format 输出规范 SRT：条目间恰一个空行，文件以单个换行结尾，UTF-8 无 BOM
func Format(segments []Segment) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(seg.Index))
		b.WriteString("\n")
		b.WriteString(seg.StartTime)
		b.WriteString(" --> ")
		b.WriteString(seg.EndTime)
		b.WriteString("\n")
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	return b.String()
}
