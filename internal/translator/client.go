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

// Package translator chat-completion 翻译客户端与分块并行翻译服务。
package translator

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"subrelay/internal/subtitle"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/retry"
)

// Config 客户端参数
type Config struct {
	BaseURL             string
	APIKey              string
	Model               string
	MaxCompletionTokens int
	Temperature         float64
	RequestTimeout      time.Duration
	Retry               retry.Policy
}

// BatchResult 单批翻译结果。ParsedNumbers 是回复里实际出现的编号，
// 缺一条时调用方据此回填原文。
type BatchResult struct {
	Translations  []string
	ParsedNumbers []int
}

// Client chat-completion 客户端
type Client struct {
	http    *resty.Client
	cfg     Config
	limiter *RateLimiter
	logger  *log.Logger
}

// NewClient 创建翻译客户端；limiter 可为 nil（不限流）
func NewClient(cfg Config, limiter *RateLimiter, logger *log.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)
	return &Client{http: httpClient, cfg: cfg, limiter: limiter, logger: logger.Component("translator")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int `json:"prompt_tokens"`
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// TranslateBatch 翻译一批文本。容忍恰好缺一条（调用方回填原文），
// 缺多条按可重试的数量不符上抛，由重试引擎重发同一批次。
func (c *Client) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) (*BatchResult, error) {
	if len(texts) == 0 {
		return &BatchResult{}, nil
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(sourceLang, targetLang)},
			{Role: "user", Content: buildUserPrompt(texts)},
		},
		MaxCompletionTokens: c.cfg.MaxCompletionTokens,
	}
	// "nano" 系列模型拒绝非默认温度，请求体中整体省略
	if !strings.Contains(c.cfg.Model, "nano") {
		t := c.cfg.Temperature
		req.Temperature = &t
	}

	return retry.DoValue(ctx, c.logger, "translator.batch", c.cfg.Retry, func(ctx context.Context) (*BatchResult, error) {
		content, err := c.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		translations, numbers := parseNumbered(content)
		switch {
		case len(numbers) == len(texts):
			return &BatchResult{Translations: translations, ParsedNumbers: numbers}, nil
		case len(numbers) == len(texts)-1:
			c.logger.Warn("译文缺一条，调用方将回填原文",
				"expected", len(texts),
				"parsed", numbers)
			return &BatchResult{Translations: translations, ParsedNumbers: numbers}, nil
		default:
			return nil, errors.Wrapf(subtitle.ErrCountMismatch,
				"translate batch: expected %d translations, parsed %d", len(texts), len(numbers))
		}
	})
}

// complete 一次 chat-completion 往返，含三类异常完成的显式处理
func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx)
		if err != nil {
			return "", err
		}
		defer release()
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", errors.Transient("chat completion request", err)
	}
	if code := resp.StatusCode(); code >= 400 {
		if code == 429 || code >= 500 {
			return "", errors.Transientf("chat completion: http %d: %s", code, resp.String())
		}
		return "", errors.Permanentf("chat completion: http %d: %s", code, resp.String())
	}

	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(out.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(out.Usage.CompletionTokens))

	if len(out.Choices) == 0 {
		return "", errors.Transientf("chat completion: no choices in response")
	}
	choice := out.Choices[0]
	content := choice.Message.Content

	if choice.FinishReason == "length" {
		if content != "" {
			c.logger.Warn("补全被长度截断，按已返回内容继续",
				"completion_tokens", out.Usage.CompletionTokens)
			return content, nil
		}
		reasoning := out.Usage.CompletionTokensDetails.ReasoningTokens
		completion := out.Usage.CompletionTokens
		if completion > 0 && float64(reasoning) >= 0.9*float64(completion) {
			return "", errors.Permanentf(
				"chat completion: reasoning tokens consumed the full budget (%d of %d); raise max_completion_tokens or switch model",
				reasoning, completion)
		}
		return "", errors.Transientf("chat completion: truncated with empty content")
	}
	if content == "" {
		return "", errors.Transientf("chat completion: empty content, finish_reason=%s", choice.FinishReason)
	}
	return content, nil
}
