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

package main

import (
	"context"
	stdlog "log"
	"time"

	"subrelay/internal/app/downloadworker"
	"subrelay/pkg/config"
	"subrelay/pkg/log"
	"subrelay/pkg/shutdown"
	"subrelay/pkg/utils"
)

func main() {
	// 加载配置
	cfg, err := config.LoadDownloadWorkerConfig()
	if err != nil {
		stdlog.Fatalf("加载配置失败: %v", err)
	}

	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		stdlog.Fatalf("初始化日志失败: %v", err)
	}

	timeout := utils.ParseDurationOr(cfg.Shutdown.Timeout, 30*time.Second)
	sd := shutdown.NewManager(logger, timeout)

	// 初始化应用；清理回调注册到 shutdown 管理器
	app, err := downloadworker.NewApp(cfg, logger, sd)
	if err != nil {
		stdlog.Fatalf("初始化应用失败: %v", err)
	}

	// 消费循环在后台运行，主 goroutine 等信号
	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	sd.Listen()
	if err := <-done; err != nil {
		stdlog.Printf("消费循环退出: %v", err)
	}
}
