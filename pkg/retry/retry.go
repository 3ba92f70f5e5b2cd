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

// Package retry 外部调用重试引擎：指数退避 + 抖动，沿原因链区分瞬时/永久错误
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
)

// Policy 重试策略
type Policy struct {
	// MaxRetries 最大重试次数（不含首次）
	MaxRetries int
	// InitialDelay 首次退避时长
	InitialDelay time.Duration
	// ExponentialBase 退避倍率
	ExponentialBase float64
	// MaxDelay 退避时长上限
	MaxDelay time.Duration
}

// DefaultPolicy 默认策略：3 次重试，1s 起步 ×2，上限 30s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		ExponentialBase: 2.0,
		MaxDelay:        30 * time.Second,
	}
}

// Delay 第 attempt 次（0 起）重试前的退避时长：min(initial*base^n, max) + uniform(0, 0.5×该值)
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if max := float64(p.MaxDelay); base > max && max > 0 {
		base = max
	}
	jitter := rand.Float64() * base * 0.5
	return time.Duration(base + jitter)
}

// Do 以 policy 执行 fn；永久错误立即返回，瞬时错误退避重试，重试耗尽后原样返回最后一次错误。
// name 为操作逻辑名，仅用于日志与指标。
func Do(ctx context.Context, logger *log.Logger, name string, policy Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, logger, name, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue 同 Do，但透传 fn 的返回值
func DoValue[T any](ctx context.Context, logger *log.Logger, name string, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			logger.Warn("重试外部调用",
				"operation", name,
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"delay", delay.String(),
				"error", lastErr,
			)
			metrics.RetryTotal.WithLabelValues(name).Inc()
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.IsPermanent(err) {
			logger.Debug("永久错误不重试", "operation", name, "error", err)
			return zero, err
		}
		if !errors.IsTransient(err) {
			// 未知类别按永久处理，直接上抛
			return zero, err
		}
	}
	return zero, lastErr
}
