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
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 翻译服务限流：RPS + 并发双重控制
type RateLimiter struct {
	requests  *rate.Limiter
	semaphore chan struct{}
}

// NewRateLimiter 创建限流器。requestsPerMinute <= 0 不限速，
// maxConcurrent <= 0 不限并发。
func NewRateLimiter(requestsPerMinute float64, maxConcurrent int) *RateLimiter {
	l := &RateLimiter{}
	if requestsPerMinute > 0 {
		rps := requestsPerMinute / 60.0
		burst := int(rps * 2) // burst = 2 秒的配额
		if burst < 1 {
			burst = 1
		}
		l.requests = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if maxConcurrent > 0 {
		l.semaphore = make(chan struct{}, maxConcurrent)
	}
	return l
}

// Acquire 阻塞等待执行许可；返回的 release 必须在请求结束后调用
func (l *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}
	if l.semaphore != nil {
		select {
		case l.semaphore <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			if l.semaphore != nil {
				<-l.semaphore
			}
			return nil, err
		}
	}
	return func() {
		if l.semaphore != nil {
			<-l.semaphore
		}
	}, nil
}
