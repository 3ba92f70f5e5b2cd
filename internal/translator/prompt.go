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
	"fmt"
	"strings"
)

// buildSystemPrompt 翻译指令：贴合语境意译、保留内嵌标记、
// 按编号格式作答且不加评注
func buildSystemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf(`You are a professional subtitle translator. Translate each numbered subtitle segment from %s to %s.

Rules:
- Adapt idioms and phrasing naturally for the target language; do not translate word-for-word.
- Preserve any inline markup tags (e.g. <i>, <b>, {\an8}) exactly as they appear.
- Reply using the identical numbered format: each segment as "[i]" on its own line followed by the translated text.
- Do not add commentary, explanations, or extra segments.`, sourceLang, targetLang)
}

// buildUserPrompt 把批次文本编成 [i]\n{text} 块，块间空行分隔，编号从 1 起
func buildUserPrompt(texts []string) string {
	blocks := make([]string, len(texts))
	for i, text := range texts {
		blocks[i] = fmt.Sprintf("[%d]\n%s", i+1, text)
	}
	return strings.Join(blocks, "\n\n")
}
