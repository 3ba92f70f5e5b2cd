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
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

const jobKeyPrefix = "job:"

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

// redisStore Store 的 Redis 实现；UpdatePhase 用 WATCH 乐观事务保证单写者语义
type redisStore struct {
	client *redis.Client
	ttl    TTLPolicy
	logger *log.Logger

	// 重连锁：并发 EnsureConnected 只允许一个探测
	connMu sync.Mutex
}

// NewRedisStore 创建 Redis Job 存储
func NewRedisStore(cfg RedisConfig, ttl TTLPolicy, logger *log.Logger) Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &redisStore{
		client: client,
		ttl:    ttl,
		logger: logger.Component("jobstore"),
	}
}

// NewRedisStoreWithClient 复用既有连接（测试用 miniredis 注入）
func NewRedisStoreWithClient(client *redis.Client, ttl TTLPolicy, logger *log.Logger) Store {
	return &redisStore{client: client, ttl: ttl, logger: logger.Component("jobstore")}
}

func jobKey(jobID string) string { return jobKeyPrefix + jobID }

func (s *redisStore) SaveJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return errors.ErrInvalidArg
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Phase == "" {
		job.Phase = PhasePending
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	ok, err := s.client.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return errors.Transient("save job", err)
	}
	if !ok {
		return ErrJobExists
	}
	return nil
}

func (s *redisStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Transient("get job", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "unmarshal job")
	}
	return &job, nil
}

func (s *redisStore) UpdatePhase(ctx context.Context, jobID string, phase Phase, source string, metadata map[string]string) (*Job, error) {
	key := jobKey(jobID)
	var updated *Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return errors.Wrap(err, "unmarshal job")
		}

		// 幂等：相同相位重复推进直接返回
		if job.Phase == phase {
			updated = &job
			return nil
		}
		if !CanTransition(job.Phase, phase) {
			return errors.Wrapf(ErrPhaseRegression, "%s -> %s", job.Phase, phase)
		}

		applyPhase(&job, phase, source, metadata)
		newData, err := json.Marshal(&job)
		if err != nil {
			return errors.Wrap(err, "marshal job")
		}

		expiration := s.expirationFor(phase)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, expiration)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &job
		return nil
	}

	// WATCH 冲突时重试有限次
	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.Debug("相位已推进", "job_id", jobID, "phase", phase, "source", source)
		return updated, nil
	}
	return nil, errors.Transientf("update phase: tx conflict on %s", jobID)
}

// applyPhase 写入新相位、审计与元数据
func applyPhase(job *Job, phase Phase, source string, metadata map[string]string) {
	job.Phase = phase
	job.UpdatedAt = time.Now().UTC()
	job.Audit = append(job.Audit, PhaseChange{Phase: phase, Source: source, At: job.UpdatedAt})
	if len(metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			job.Metadata[k] = v
		}
		if msg, ok := metadata["error"]; ok {
			job.ErrorMessage = msg
		}
	}
}

// expirationFor 终态返回对应 TTL；非终态 0（持久）
func (s *redisStore) expirationFor(phase Phase) time.Duration {
	switch phase {
	case PhaseCompleted:
		return s.ttl.Completed
	case PhaseFailed:
		return s.ttl.Failed
	default:
		return 0
	}
}

func (s *redisStore) EnsureConnected(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Transient("redis ping", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
