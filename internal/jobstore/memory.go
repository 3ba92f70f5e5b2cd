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
	"sync"
	"time"
)

// memoryStore 内存实现，测试与本地开发用；TTL 以惰性过期模拟
type memoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	expires map[string]time.Time
	ttl     TTLPolicy
}

// NewMemoryStore 创建内存 Job 存储
func NewMemoryStore(ttl TTLPolicy) Store {
	return &memoryStore{
		jobs:    make(map[string]*Job),
		expires: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (s *memoryStore) expiredLocked(jobID string) bool {
	exp, ok := s.expires[jobID]
	return ok && time.Now().After(exp)
}

func (s *memoryStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok && !s.expiredLocked(job.ID) {
		return ErrJobExists
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Phase == "" {
		job.Phase = PhasePending
	}
	cp := *job
	s.jobs[job.ID] = &cp
	delete(s.expires, job.ID)
	return nil
}

func (s *memoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok || s.expiredLocked(jobID) {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memoryStore) UpdatePhase(ctx context.Context, jobID string, phase Phase, source string, metadata map[string]string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || s.expiredLocked(jobID) {
		return nil, ErrJobNotFound
	}
	if job.Phase == phase {
		cp := *job
		return &cp, nil
	}
	if !CanTransition(job.Phase, phase) {
		return nil, ErrPhaseRegression
	}
	applyPhase(job, phase, source, metadata)
	switch phase {
	case PhaseCompleted:
		s.expires[jobID] = time.Now().Add(s.ttl.Completed)
	case PhaseFailed:
		s.expires[jobID] = time.Now().Add(s.ttl.Failed)
	}
	cp := *job
	return &cp, nil
}

func (s *memoryStore) EnsureConnected(ctx context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }
