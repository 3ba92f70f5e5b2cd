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

package jobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"subrelay/pkg/log"
)

const dedupKeyPrefix = "dedup:"

// Fingerprint 计算 (video_url, source_lang, target_lang) 的去重指纹
func Fingerprint(videoURL, sourceLang, targetLang string) string {
	h := sha256.Sum256([]byte(videoURL + "|" + sourceLang + "|" + targetLang))
	return hex.EncodeToString(h[:])
}

// DedupResult check_and_register 结果
type DedupResult struct {
	IsDuplicate   bool
	ExistingJobID string
}

// Deduper 重复请求拦截：指纹在窗口内已注册则判重。
// 存储不可达时放行（返回非重复），不得阻塞主流程。
type Deduper struct {
	client *redis.Client
	window time.Duration
	logger *log.Logger
}

// NewDeduper 创建去重服务；window <= 0 时用默认 1h
func NewDeduper(client *redis.Client, window time.Duration, logger *log.Logger) *Deduper {
	if window <= 0 {
		window = time.Hour
	}
	return &Deduper{client: client, window: window, logger: logger.Component("dedup")}
}

// CheckAndRegister 原子注册指纹（SET NX + TTL）。并发相同指纹恰有一个成功注册，
// 其余得到 is_duplicate=true 与已注册的 job_id
func (d *Deduper) CheckAndRegister(ctx context.Context, fingerprint, jobID string) DedupResult {
	key := dedupKeyPrefix + fingerprint
	ok, err := d.client.SetNX(ctx, key, jobID, d.window).Result()
	if err != nil {
		d.logger.Warn("去重存储不可达，放行请求", "error", err)
		return DedupResult{IsDuplicate: false}
	}
	if ok {
		return DedupResult{IsDuplicate: false}
	}
	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		// 注册与读取之间窗口过期：按非重复处理
		return DedupResult{IsDuplicate: false}
	}
	return DedupResult{IsDuplicate: true, ExistingJobID: existing}
}

// Release 撤销本次注册的指纹：建档或入队失败后调用，避免失败请求
// 在整个窗口内挡住重试。只删除仍属于 jobID 的注册，不碰并发者的
func (d *Deduper) Release(ctx context.Context, fingerprint, jobID string) {
	key := dedupKeyPrefix + fingerprint
	owner, err := d.client.Get(ctx, key).Result()
	if err != nil || owner != jobID {
		return
	}
	if err := d.client.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("去重指纹撤销失败", "job_id", jobID, "error", err)
	}
}
