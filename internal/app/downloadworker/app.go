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

// Package downloadworker 下载进程装配：目录客户端、消费循环与清理回调。
package downloadworker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"subrelay/internal/broker"
	"subrelay/internal/catalog"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/internal/worker"
	"subrelay/pkg/config"
	"subrelay/pkg/log"
	"subrelay/pkg/metrics"
	"subrelay/pkg/retry"
	"subrelay/pkg/secrets"
	"subrelay/pkg/shutdown"
	"subrelay/pkg/tracing"
	"subrelay/pkg/utils"
)

const sourceDownloadWorker = "download-worker"

// App 下载 Worker 应用
type App struct {
	cfg     *config.Config
	logger  *log.Logger
	store   jobstore.Store
	client  *broker.Client
	catalog *catalog.Client
	loop    *worker.Loop
}

// NewApp 创建下载 Worker 并装配依赖；清理回调按装配顺序注册，LIFO 执行
func NewApp(cfg *config.Config, logger *log.Logger, sd *shutdown.Manager) (*App, error) {
	logger = logger.Component(sourceDownloadWorker)

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
	sd.RegisterCleanup("jobstore", func(ctx context.Context) error { return store.Close() })

	client := broker.NewClient(broker.Config{
		URL:                 cfg.Broker.URL,
		ReconnectMaxRetries: cfg.Broker.ReconnectMaxRetries,
		ReconnectBaseDelay:  utils.ParseDurationOr(cfg.Broker.ReconnectBaseDelay, time.Second),
		ReconnectMaxDelay:   utils.ParseDurationOr(cfg.Broker.ReconnectMaxDelay, 30*time.Second),
		Prefetch:            cfg.Broker.Prefetch,
	}, logger)
	sd.RegisterCleanup("broker", func(ctx context.Context) error { return client.Close() })

	creds := secrets.NewEnvStore()
	cat := catalog.NewClient(catalog.Config{
		Endpoint:  cfg.Catalog.Endpoint,
		Username:  secrets.Resolve(context.Background(), creds, cfg.Catalog.Username, "catalog_username"),
		Password:  secrets.Resolve(context.Background(), creds, cfg.Catalog.Password, "catalog_password"),
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   utils.ParseDurationOr(cfg.Catalog.Timeout, 30*time.Second),
		Retry:     retryPolicy(cfg.Catalog.Retry),
	}, logger)
	sd.RegisterCleanup("catalog", func(ctx context.Context) error {
		cat.Disconnect(ctx)
		return nil
	})

	bus := events.NewBus(client, sourceDownloadWorker, logger)
	handler := worker.NewDownloadHandler(store, cat,
		broker.NewTaskQueue(client, logger), bus, cfg.Storage.SubtitlePath, logger)

	app := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		catalog: cat,
		loop: worker.NewLoop(client, store, handler, worker.LoopConfig{
			Queue:          broker.QueueDownload,
			WorkerID:       workerID(),
			HealthInterval: utils.ParseDurationOr(cfg.Broker.HealthCheckInterval, 30*time.Second),
			ProcessTimeout: utils.ParseDurationOr(cfg.Worker.ProcessTimeout, 120*time.Second),
		}, sd, logger),
	}

	if cfg.Monitoring.Tracing.Enable {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    utils.CoalesceString(cfg.Monitoring.Tracing.ServiceName, "subrelay-download-worker"),
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			sd.RegisterCleanup("tracing", tp.Shutdown)
		}
	}
	if cfg.Monitoring.Prometheus.Enable {
		startMetricsServer(cfg.Monitoring.Prometheus.Port, sd, logger)
	}
	return app, nil
}

// startMetricsServer Worker 进程没有管理面，单独起一个 /metrics 端口
func startMetricsServer(port int, sd *shutdown.Manager, logger *log.Logger) {
	srv := metrics.NewServer(fmt.Sprintf(":%d", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("指标端口退出", "addr", srv.Addr, "error", err)
		}
	}()
	sd.RegisterCleanup("metrics", srv.Shutdown)
	logger.Info("指标端口已启动", "addr", srv.Addr)
}

// Run 连接目录服务后进入消费循环；阻塞直到停机
func (a *App) Run(ctx context.Context) error {
	if err := a.catalog.Connect(ctx); err != nil {
		// 目录会话失败不阻断启动，处理任务时经重试引擎再次建连
		a.logger.Warn("目录服务连接失败，消费期间将重试", "error", err)
	}
	a.logger.Info("下载 Worker 已启动", "queue", broker.QueueDownload)
	return a.loop.Run(ctx)
}

// workerID 主机名加短随机段，消费者标签用
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "download-worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if d := utils.ParseDurationOr(cfg.InitialDelay, 0); d > 0 {
		p.InitialDelay = d
	}
	if cfg.ExponentialBase > 1 {
		p.ExponentialBase = cfg.ExponentialBase
	}
	if d := utils.ParseDurationOr(cfg.MaxDelay, 0); d > 0 {
		p.MaxDelay = d
	}
	return p
}
