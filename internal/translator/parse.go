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
	"sort"
	"strconv"
	"strings"
)

// parseNumbered 按 "[" 切分回复，提取 [n]\ntext 块。
// 返回按编号升序的译文与实际出现的编号列表；重复编号取首个，
// 非数字前缀的块忽略。
func parseNumbered(content string) (translations []string, numbers []int) {
	byNumber := make(map[int]string)
	for _, block := range strings.Split(content, "[") {
		closing := strings.Index(block, "]")
		if closing < 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(block[:closing]))
		if err != nil || n < 1 {
			continue
		}
		text := strings.TrimPrefix(block[closing+1:], "\n")
		text = strings.TrimSpace(text)
		if _, dup := byNumber[n]; dup {
			continue
		}
		byNumber[n] = text
	}

	numbers = make([]int, 0, len(byNumber))
	for n := range byNumber {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	translations = make([]string, 0, len(numbers))
	for _, n := range numbers {
		translations = append(translations, byNumber[n])
	}
	return translations, numbers
}
