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

// Package worker 队列消费循环与两类任务处理器。
package worker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"subrelay/internal/broker"
	"subrelay/internal/jobstore"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/shutdown"
)

// Handler 单条消息的业务处理。失败时自行负责 Job 终态与失败事件；
// 返回的错误只决定 ack/nack。
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// LoopConfig 消费循环参数
type LoopConfig struct {
	Queue          string
	WorkerID       string
	HealthInterval time.Duration
	ProcessTimeout time.Duration
}

func (c *LoopConfig) withDefaults() LoopConfig {
	out := *c
	if out.HealthInterval <= 0 {
		out.HealthInterval = 30 * time.Second
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 120 * time.Second
	}
	if out.ProcessTimeout < time.Second {
		out.ProcessTimeout = time.Second
	}
	if out.ProcessTimeout > 300*time.Second {
		out.ProcessTimeout = 300 * time.Second
	}
	return out
}

// Loop 单队列消费循环：外层负责连接与健康检查重建，
// 内层逐条消费，按错误类别决定 ack/nack。
type Loop struct {
	client   *broker.Client
	store    jobstore.Store
	handler  Handler
	cfg      LoopConfig
	shutdown *shutdown.Manager
	logger   *log.Logger
}

// NewLoop 创建消费循环
func NewLoop(client *broker.Client, store jobstore.Store, handler Handler, cfg LoopConfig, sd *shutdown.Manager, logger *log.Logger) *Loop {
	return &Loop{
		client:   client,
		store:    store,
		handler:  handler,
		cfg:      cfg.withDefaults(),
		shutdown: sd,
		logger:   logger.Component("consumer"),
	}
}

// Run 阻塞运行直到触发停机或 ctx 取消
func (l *Loop) Run(ctx context.Context) error {
	for !l.shutdown.Requested() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.connect(ctx); err != nil {
			l.logger.Error("连接建立失败，循环重启", "error", err)
			continue
		}
		deliveries, err := l.client.Consume(ctx, l.cfg.Queue, l.cfg.WorkerID)
		if err != nil {
			l.logger.Error("消费流打开失败，循环重启", "queue", l.cfg.Queue, "error", err)
			continue
		}
		l.logger.Info("消费已启动", "queue", l.cfg.Queue, "worker_id", l.cfg.WorkerID)
		if err := l.consume(ctx, deliveries); err != nil {
			if l.shutdown.Requested() || ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("消费中断，重建连接", "error", err)
		}
	}
	return nil
}

func (l *Loop) connect(ctx context.Context) error {
	if err := l.client.EnsureConnected(ctx); err != nil {
		return err
	}
	return l.store.EnsureConnected(ctx)
}

// consume 内层循环；健康检查失败时报错抛回外层重建
func (l *Loop) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	health := time.NewTicker(l.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.shutdown.Done():
			return nil
		case <-health.C:
			if err := l.connect(ctx); err != nil {
				return errors.Transient("health check", err)
			}
		case d, ok := <-deliveries:
			if !ok {
				return errors.Transientf("delivery channel closed")
			}
			l.process(ctx, d)
		}
	}
}

// process 单条消息：限时处理，按错误类别决定 ack/nack。
// 停机或超时导致的取消不 ack，broker 将重投。
func (l *Loop) process(parent context.Context, d amqp.Delivery) {
	metrics.WorkerBusy.WithLabelValues(l.cfg.WorkerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(l.cfg.WorkerID).Dec()

	ctx, cancel := context.WithTimeout(parent, l.cfg.ProcessTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.handler.Handle(ctx, d.Body) }()

	var err error
	select {
	case err = <-done:
	case <-l.shutdown.Done():
		cancel()
		err = <-done
	}

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			l.logger.Warn("ack 失败", "error", ackErr)
		}
	case ctx.Err() != nil || l.shutdown.Requested():
		// 取消：不判定任务失败，留给重投
		l.logger.Warn("处理被取消，消息将重投", "queue", l.cfg.Queue, "error", err)
		_ = d.Nack(false, true)
	case errors.IsPermanent(err):
		// 终态已由处理器落账，重投无意义
		l.logger.Error("处理永久失败", "queue", l.cfg.Queue, "error", err)
		_ = d.Ack(false)
	default:
		l.logger.Warn("处理瞬时失败，消息将重投", "queue", l.cfg.Queue, "error", err)
		_ = d.Nack(false, true)
	}
}
