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

// Package orchestrator 编排进程装配：管理面 HTTP、任务入队、
// 事件消费与队列深度采样。
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/redis/go-redis/v9"

	"subrelay/internal/broker"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/config"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/tracing"
	"subrelay/pkg/utils"
)

const sourceOrchestrator = "orchestrator"

// App 编排应用
type App struct {
	cfg     *config.Config
	logger  *log.Logger
	store   jobstore.Store
	deduper *jobstore.Deduper
	client  *broker.Client
	tasks   *broker.TaskQueue
	bus     *events.Bus
	hertz   *server.Hertz

	eventCancel context.CancelFunc
	traceClose  func(context.Context) error
}

// NewApp 创建编排应用并装配依赖
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger = logger.Component(sourceOrchestrator)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Addr,
		DB:       cfg.Store.DB,
		Password: cfg.Store.Password,
	})
	ttl := jobstore.TTLPolicy{
		Completed: utils.ParseDurationOr(cfg.Store.JobTTLCompleted, 7*24*time.Hour),
		Failed:    utils.ParseDurationOr(cfg.Store.JobTTLFailed, 3*24*time.Hour),
	}
	store := jobstore.NewRedisStoreWithClient(redisClient, ttl, logger)
	deduper := jobstore.NewDeduper(redisClient,
		utils.ParseDurationOr(cfg.Store.DedupWindow, time.Hour), logger)

	client := broker.NewClient(broker.Config{
		URL:                 cfg.Broker.URL,
		ReconnectMaxRetries: cfg.Broker.ReconnectMaxRetries,
		ReconnectBaseDelay:  utils.ParseDurationOr(cfg.Broker.ReconnectBaseDelay, time.Second),
		ReconnectMaxDelay:   utils.ParseDurationOr(cfg.Broker.ReconnectMaxDelay, 30*time.Second),
		Prefetch:            cfg.Broker.Prefetch,
	}, logger)

	app := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		deduper: deduper,
		client:  client,
		tasks:   broker.NewTaskQueue(client, logger),
		bus:     events.NewBus(client, sourceOrchestrator, logger),
	}

	if cfg.Monitoring.Tracing.Enable {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    utils.CoalesceString(cfg.Monitoring.Tracing.ServiceName, "subrelay-orchestrator"),
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			app.traceClose = tp.Shutdown
		}
	}
	return app, nil
}

// Run 启动事件消费、队列采样与 HTTP 服务；阻塞直到服务退出
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.eventCancel = cancel
	go a.runEventConsumer(ctx)
	go a.runQueueSampler(ctx)

	addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
	a.hertz = server.New(server.WithHostPorts(addr))
	a.setHertzLogger()
	a.registerRoutes()
	a.logger.Info("管理面已启动", "addr", addr)
	return a.hertz.Run()
}

// Shutdown 优雅关闭：先停事件消费再关 HTTP 与连接
func (a *App) Shutdown(ctx context.Context) error {
	if a.eventCancel != nil {
		a.eventCancel()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP 关闭失败", "error", err)
		}
	}
	if a.traceClose != nil {
		_ = a.traceClose(ctx)
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("broker 关闭失败", "error", err)
	}
	return a.store.Close()
}

// setHertzLogger 把 hertz 框架日志并入进程 slog 输出
func (a *App) setHertzLogger() {
	levelVar := &slog.LevelVar{}
	switch strings.ToLower(a.cfg.Log.Level) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(os.Stdout),
		hertzslog.WithLevel(levelVar),
	))
}

// runQueueSampler 按健康检查间隔把 broker 队列深度写入 gauge
func (a *App) runQueueSampler(ctx context.Context) {
	interval := utils.ParseDurationOr(a.cfg.Broker.HealthCheckInterval, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses, err := a.tasks.Status(ctx)
			if err != nil {
				a.logger.Debug("队列深度采样失败", "error", err)
				continue
			}
			for _, s := range statuses {
				metrics.QueueDepth.WithLabelValues(s.Name).Set(float64(s.Messages))
			}
		}
	}
}
