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

package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

const checkpointKeyPrefix = "checkpoint:"

// 检查点保留上限；正常流程完成后显式删除，此 TTL 兜底孤儿记录
const checkpointTTL = 7 * 24 * time.Hour

type redisStore struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisStore 创建 Redis 检查点存储
func NewRedisStore(client *redis.Client, logger *log.Logger) Store {
	return &redisStore{client: client, logger: logger.Component("checkpoint")}
}

func checkpointKey(jobID, targetLang string) string {
	return checkpointKeyPrefix + jobID + ":" + targetLang
}

func (s *redisStore) Load(ctx context.Context, jobID, targetLang string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(jobID, targetLang)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Transient("load checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// 损坏记录等同不存在，调用方会重建
		s.logger.Warn("检查点反序列化失败，按不存在处理", "job_id", jobID, "error", err)
		return nil, ErrNotFound
	}
	return &cp, nil
}

func (s *redisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	key := checkpointKey(cp.JobID, cp.TargetLanguage)
	if err := s.client.Set(ctx, key, data, checkpointTTL).Err(); err != nil {
		return errors.Transient("save checkpoint", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, jobID, targetLang string) error {
	if err := s.client.Del(ctx, checkpointKey(jobID, targetLang)).Err(); err != nil {
		return errors.Transient("delete checkpoint", err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.client.Close() }
