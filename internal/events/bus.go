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

package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"subrelay/internal/broker"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/tracing"
)

// Bus 事件发布端。事件发布失败只记日志不上抛，
// 生命周期事件是旁路信息，不得拖垮主流程。
type Bus struct {
	client *broker.Client
	source string
	logger *log.Logger
}

// NewBus 创建发布端；source 写入每个事件的 source_component
func NewBus(client *broker.Client, source string, logger *log.Logger) *Bus {
	return &Bus{client: client, source: source, logger: logger.Component("events")}
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

// Publish 发布事件：persistent、JSON、routing key 即事件类型
func (b *Bus) Publish(ctx context.Context, t Type, jobID string, payload map[string]any) {
	if !t.Valid() {
		b.logger.Error("拒绝发布未知事件类型", "event_type", string(t))
		return
	}
	ctx, span := tracing.StartPublishSpan(ctx, string(t))
	defer span.End()

	evt := New(t, jobID, b.source, payload)
	body, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("事件序列化失败", "event_type", string(t), "error", err)
		return
	}
	ch, err := b.client.Channel(ctx)
	if err != nil {
		b.logger.Warn("broker 不可达，事件丢弃", "event_type", string(t), "job_id", jobID, "error", err)
		return
	}
	if err := declareExchange(ch); err != nil {
		b.logger.Warn("exchange 声明失败，事件丢弃", "event_type", string(t), "error", err)
		return
	}
	err = ch.PublishWithContext(ctx, Exchange, string(t), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		b.logger.Warn("事件发布失败", "event_type", string(t), "job_id", jobID, "error", err)
		return
	}
	b.logger.Debug("事件已发布", "event_type", string(t), "job_id", jobID)
}

// Handler 单类型事件处理器
type Handler func(ctx context.Context, evt Event) error

// Consumer 事件消费端：durable 队列按 pattern 绑定到 exchange，
// 按类型分发到注册的处理器。
type Consumer struct {
	client   *broker.Client
	queue    string
	pattern  string
	handlers map[Type]Handler
	logger   *log.Logger
}

// NewConsumer 创建消费端；pattern 为 topic 绑定模式（如 "subtitle.#"、"#"）
func NewConsumer(client *broker.Client, queue, pattern string, logger *log.Logger) *Consumer {
	return &Consumer{
		client:   client,
		queue:    queue,
		pattern:  pattern,
		handlers: make(map[Type]Handler),
		logger:   logger.Component("events"),
	}
}

// On 注册处理器；同类型后注册的覆盖先注册的
func (c *Consumer) On(t Type, h Handler) {
	c.handlers[t] = h
}

// Run 消费循环；ctx 取消或投递流关闭时返回
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.client.Channel(ctx)
	if err != nil {
		return err
	}
	if err := declareExchange(ch); err != nil {
		return errors.Transient("declare exchange", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return errors.Transient("declare event queue", err)
	}
	if err := ch.QueueBind(c.queue, c.pattern, Exchange, false, nil); err != nil {
		return errors.Transient("bind event queue", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Transient("consume events", err)
	}

	c.logger.Info("事件消费已启动", "queue", c.queue, "pattern", c.pattern)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.Transientf("event delivery channel closed")
			}
			c.settle(d, c.dispatch(ctx, d.Body))
		}
	}
}

// settle 按处理结果回执：成功 ack；首次失败 requeue 重试一次；
// 重投后仍失败则丢弃，避免坏事件在队列里打转
func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if !d.Redelivered {
		c.logger.Warn("事件处理失败，重回队列", "error", err)
		_ = d.Nack(false, true)
		return
	}
	c.logger.Error("事件重投后仍失败，丢弃", "error", err)
	_ = d.Nack(false, false)
}

// dispatch 反序列化并按类型分发；无处理器的类型静默通过
func (c *Consumer) dispatch(ctx context.Context, body []byte) error {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return errors.Wrap(err, "unmarshal event")
	}
	if !evt.Type.Valid() {
		c.logger.Warn("忽略未知事件类型", "event_type", string(evt.Type))
		return nil
	}
	h, ok := c.handlers[evt.Type]
	if !ok {
		return nil
	}
	return h(ctx, evt)
}
