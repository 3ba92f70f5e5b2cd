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

// Package translationworker 翻译进程装配：翻译客户端、限流、检查点与消费循环。
package translationworker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"subrelay/internal/broker"
	"subrelay/internal/checkpoint"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/internal/tokens"
	"subrelay/internal/translator"
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

const sourceTranslationWorker = "translation-worker"

// App 翻译 Worker 应用
type App struct {
	cfg    *config.Config
	logger *log.Logger
	loop   *worker.Loop
}

// NewApp 创建翻译 Worker 并装配依赖
func NewApp(cfg *config.Config, logger *log.Logger, sd *shutdown.Manager) (*App, error) {
	logger = logger.Component(sourceTranslationWorker)

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

	maxConcurrent := cfg.Translator.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.Translator.ParallelRequests
	}
	limiter := translator.NewRateLimiter(cfg.Translator.RequestsPerMinute, maxConcurrent)

	creds := secrets.NewEnvStore()
	llm := translator.NewClient(translator.Config{
		BaseURL:             cfg.Translator.BaseURL,
		APIKey:              secrets.Resolve(context.Background(), creds, cfg.Translator.APIKey, "translator_api_key"),
		Model:               cfg.Translator.Model,
		MaxCompletionTokens: cfg.Translator.MaxCompletionTokens,
		Temperature:         cfg.Translator.Temperature,
		RequestTimeout:      utils.ParseDurationOr(cfg.Translator.RequestTimeout, 120*time.Second),
		Retry:               retryPolicy(cfg.Translator.Retry),
	}, limiter, logger)

	checkpoints := checkpoint.NewManager(
		checkpoint.NewRedisStore(redisClient, logger),
		boolOr(cfg.Store.CheckpointEnabled, true),
		boolOr(cfg.Store.CheckpointCleanup, true),
		logger)

	service := translator.NewService(llm, tokens.NewCounter(), checkpoints, translator.ServiceConfig{
		Model:               cfg.Translator.Model,
		MaxTokensPerChunk:   cfg.Translator.MaxTokensPerChunk,
		TokenSafetyMargin:   cfg.Translator.TokenSafetyMargin,
		MaxSegmentsPerChunk: cfg.Translator.MaxSegmentsPerChunk,
		ParallelRequests:    cfg.Translator.ParallelRequests,
		SubtitlePath:        cfg.Storage.SubtitlePath,
	}, logger)

	bus := events.NewBus(client, sourceTranslationWorker, logger)
	handler := worker.NewTranslationHandler(store, service, bus, logger)

	app := &App{
		cfg:    cfg,
		logger: logger,
		loop: worker.NewLoop(client, store, handler, worker.LoopConfig{
			Queue:          broker.QueueTranslation,
			WorkerID:       workerID(),
			HealthInterval: utils.ParseDurationOr(cfg.Broker.HealthCheckInterval, 30*time.Second),
			ProcessTimeout: utils.ParseDurationOr(cfg.Worker.ProcessTimeout, 120*time.Second),
		}, sd, logger),
	}

	if cfg.Monitoring.Tracing.Enable {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    utils.CoalesceString(cfg.Monitoring.Tracing.ServiceName, "subrelay-translation-worker"),
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

// Run 进入消费循环；阻塞直到停机
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("翻译 Worker 已启动", "queue", broker.QueueTranslation,
		"model", a.cfg.Translator.Model, "parallel_requests", a.cfg.Translator.ParallelRequests)
	return a.loop.Run(ctx)
}

// workerID 主机名加短随机段，消费者标签用
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "translation-worker"
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

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
