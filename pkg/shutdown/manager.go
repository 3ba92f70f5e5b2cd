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

// Package shutdown 进程级优雅关闭：信号接入、关闭标志、LIFO 清理回调
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"subrelay/pkg/log"
)

const forceCleanupTimeout = 5 * time.Second

// CleanupFunc 清理回调；ctx 超时后应尽快返回
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Manager 进程级关闭管理器；信号处理只置标志/关 channel，清理在独立 goroutine 执行
type Manager struct {
	logger  *log.Logger
	timeout time.Duration

	requested atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once

	mu       sync.Mutex
	cleanups []cleanup

	exit func(int) // 测试可替换
}

// NewManager 创建关闭管理器；timeout 为优雅关闭整体超时
func NewManager(logger *log.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		logger:  logger.Component("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
		exit:    os.Exit,
	}
}

// Requested 是否已请求关闭；消费循环在每次取消息之间轮询
func (m *Manager) Requested() bool {
	return m.requested.Load()
}

// Done 关闭信号 channel；select 场景用
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// RegisterCleanup 注册清理回调，关闭时按注册的逆序（LIFO）执行
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanup{name: name, fn: fn})
}

// Trigger 程序性触发关闭（与收到首个信号等价）
func (m *Manager) Trigger() {
	m.requested.Store(true)
	m.doneOnce.Do(func() { close(m.done) })
}

// Listen 安装信号处理并阻塞直到优雅关闭完成。
// 第一个信号开始优雅关闭；第二个信号在 5s 内强制清理后退出；之后的信号仅记录。
func (m *Manager) Listen() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	m.logger.Info("收到关闭信号，开始优雅关闭", "timeout", m.timeout.String())
	m.Trigger()

	finished := make(chan struct{})
	go func() {
		m.RunCleanups(m.timeout)
		close(finished)
	}()

	signalCount := 1
	for {
		select {
		case <-finished:
			return
		case <-time.After(m.timeout + time.Second):
			m.logger.Error("优雅关闭超时，强制退出")
			m.exit(1)
			return
		case <-sigCh:
			signalCount++
			if signalCount == 2 {
				m.logger.Warn("第二次信号，强制清理后退出")
				m.RunCleanups(forceCleanupTimeout)
				m.exit(1)
				return
			}
			m.logger.Warn("重复关闭信号，忽略", "count", signalCount)
		}
	}
}

// RunCleanups 按 LIFO 执行全部清理回调；单个回调出错或 panic 不影响其余回调
func (m *Manager) RunCleanups(timeout time.Duration) {
	m.mu.Lock()
	cleanups := make([]cleanup, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.cleanups = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		m.runOne(ctx, c)
	}
}

func (m *Manager) runOne(ctx context.Context, c cleanup) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("清理回调 panic", "name", c.name, "panic", r)
		}
	}()
	if err := c.fn(ctx); err != nil {
		m.logger.Error("清理回调失败", "name", c.name, "error", err)
		return
	}
	m.logger.Debug("清理回调完成", "name", c.name)
}
