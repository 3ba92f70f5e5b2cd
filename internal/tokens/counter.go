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

// Package tokens 按模型统计文本 token 数；有精确 encoder 时使用并缓存，否则按 len/4 估算
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter 带 per-model encoder 缓存的 token 计数器
type Counter struct {
	mu       sync.RWMutex
	encoders map[string]*tiktoken.Tiktoken
	missing  map[string]bool // 已确认无精确 encoder 的模型
}

// NewCounter 创建计数器
func NewCounter() *Counter {
	return &Counter{
		encoders: make(map[string]*tiktoken.Tiktoken),
		missing:  make(map[string]bool),
	}
}

// Count 统计 text 在 model 下的 token 数；空文本返回 0
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return approximate(text)
}

// encoderFor 返回缓存的精确 encoder；模型无对应 encoding 时记入 missing 避免重复探测
func (c *Counter) encoderFor(model string) *tiktoken.Tiktoken {
	c.mu.RLock()
	enc, ok := c.encoders[model]
	miss := c.missing[model]
	c.mu.RUnlock()
	if ok {
		return enc
	}
	if miss {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		c.missing[model] = true
		return nil
	}
	c.encoders[model] = enc
	return enc
}

// approximate 粗略估算：平均 4 字符 1 token，至少 1
func approximate(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
