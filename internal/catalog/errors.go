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
	"fmt"
	"strings"

	"subrelay/pkg/errors"
)

// AuthenticationError 凭据或会话无效，永久失败
type AuthenticationError struct {
	Status string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("catalog authentication failed: %s", e.Status)
}

// RateLimitError 目录服务限流，瞬时失败
type RateLimitError struct {
	Status string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog rate limited: %s", e.Status)
}

// APIError 其余远端错误；类别由状态文本决定
type APIError struct {
	Method string
	Status string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog %s failed: %s", e.Method, e.Status)
}

var transientStatusMarkers = []string{"503", "502", "504", "500", "timeout", "unavailable"}

// classifyStatus 把目录响应的 status 字段（前三位是类 HTTP 状态码）
// 映射到错误分类并打上重试类别标签
func classifyStatus(method, status string) error {
	code := status
	if len(code) > 3 {
		code = code[:3]
	}
	switch code {
	case "200":
		return nil
	case "401", "403", "414":
		return errors.Permanent("catalog auth", &AuthenticationError{Status: status})
	case "407", "429":
		return errors.Transient("catalog rate limit", &RateLimitError{Status: status})
	}
	apiErr := &APIError{Method: method, Status: status}
	lower := strings.ToLower(status)
	for _, marker := range transientStatusMarkers {
		if strings.Contains(lower, marker) {
			return errors.Transient("catalog api", apiErr)
		}
	}
	return errors.Permanent("catalog api", apiErr)
}
