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

// Package broker 消息队列接入层：连接管理、任务发布与消费。
// 每进程持有一条连接、一个 channel，prefetch=1。
package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

// 任务队列（durable，默认 direct exchange，routing key 即队列名）
const (
	QueueDownload    = "subtitle.download"
	QueueTranslation = "subtitle.translation"
)

// Config 连接与重连参数
type Config struct {
	URL                 string
	ReconnectMaxRetries int
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	Prefetch            int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReconnectMaxRetries <= 0 {
		out.ReconnectMaxRetries = 10
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	if out.Prefetch <= 0 {
		out.Prefetch = 1
	}
	return out
}

// Client AMQP 连接管理器。重连锁保证并发 EnsureConnected 只有一个在拨号。
type Client struct {
	cfg    Config
	logger *log.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewClient 创建连接管理器；不立即拨号，首次 EnsureConnected 时建立连接
func NewClient(cfg Config, logger *log.Logger) *Client {
	return &Client{cfg: cfg.withDefaults(), logger: logger.Component("broker")}
}

// EnsureConnected 幂等连接检查。连接断开时按有界指数退避重拨，
// 建立后声明两个任务队列。
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectedLocked() {
		return nil
	}
	return c.reconnectLocked(ctx)
}

func (c *Client) connectedLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

func (c *Client) reconnectLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ReconnectMaxRetries; attempt++ {
		if attempt > 0 {
			delay := ReconnectDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
			c.logger.Warn("连接失败，退避重试",
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.dialLocked(); err != nil {
			lastErr = err
			continue
		}
		c.logger.Info("消息队列已连接", "url", redactURL(c.cfg.URL))
		return nil
	}
	return errors.Transient("broker connect", lastErr)
}

func (c *Client) dialLocked() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	for _, q := range []string{QueueDownload, QueueTranslation} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	c.conn = conn
	c.ch = ch
	return nil
}

// ReconnectDelay 第 attempt 次重试的退避时长：min(base*2^attempt, max)
func ReconnectDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

// Publish 持久化投递到默认 direct exchange，routing key 即队列名
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	if err := c.EnsureConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return errors.Transient("publish", err)
	}
	return nil
}

// Consume 打开消费流：Qos(prefetch, 0, false)，手动 ack
func (c *Client) Consume(ctx context.Context, queue, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, errors.Transient("qos", err)
	}
	deliveries, err := c.ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Transient("consume", err)
	}
	return deliveries, nil
}

// QueueStatus 单队列的 broker 侧消息数
type QueueStatus struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

// InspectQueues 返回全部任务队列的消息数
func (c *Client) InspectQueues(ctx context.Context) ([]QueueStatus, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueueStatus, 0, 2)
	for _, q := range []string{QueueDownload, QueueTranslation} {
		state, err := c.ch.QueueDeclarePassive(q, true, false, false, false, nil)
		if err != nil {
			return nil, errors.Transient("inspect queue", err)
		}
		out = append(out, QueueStatus{Name: q, Messages: state.Messages})
	}
	return out, nil
}

// Channel 返回当前 channel；事件总线声明 exchange 用
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch, nil
}

// Close 关闭 channel 与连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// redactURL 去掉 URL 中的口令部分再入日志
func redactURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := ""
	if idx := strings.Index(url, "://"); idx >= 0 {
		scheme = url[:idx+3]
	}
	return scheme + "***" + url[at:]
}
