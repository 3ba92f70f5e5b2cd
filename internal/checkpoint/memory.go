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
	"sync"
)

// memoryStore 内存实现，测试与本地开发用
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore 创建内存检查点存储
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Load(ctx context.Context, jobID, targetLang string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[checkpointKey(jobID, targetLang)]
	if !ok {
		return nil, ErrNotFound
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, ErrNotFound
	}
	return &cp, nil
}

func (s *memoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[checkpointKey(cp.JobID, cp.TargetLanguage)] = data
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, jobID, targetLang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, checkpointKey(jobID, targetLang))
	return nil
}

func (s *memoryStore) Close() error { return nil }
