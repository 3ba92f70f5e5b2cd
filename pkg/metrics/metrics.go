package metrics

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 Orchestrator/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobDuration, JobTotal, JobFailTotal,
		ChunkDuration, LLMTokensTotal, RetryTotal,
		QueueDepth, WorkerBusy,
	)
}

// JobDuration Job 各阶段耗时（秒）
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "subrelay_job_duration_seconds",
		Help:    "Job 各阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"}, // download | translate
)

// JobTotal Job 总数（按终态）
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subrelay_job_total",
		Help: "Job 总数（按终态）",
	},
	[]string{"status"}, // completed | failed
)

// JobFailTotal Job 失败总数（按阶段）
var JobFailTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subrelay_job_fail_total",
		Help: "Job 失败总数（按阶段）",
	},
	[]string{"stage"},
)

// ChunkDuration 单个 chunk 翻译耗时（秒）
var ChunkDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "subrelay_chunk_duration_seconds",
		Help:    "单个 chunk 翻译耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// LLMTokensTotal 翻译调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subrelay_llm_tokens_total",
		Help: "翻译调用 token 总数",
	},
	[]string{"direction"}, // input | output
)

// RetryTotal 重试次数（按操作名）
var RetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subrelay_retry_total",
		Help: "重试引擎触发的重试次数",
	},
	[]string{"operation"},
)

// QueueDepth 各队列当前消息数
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "subrelay_queue_depth",
		Help: "各队列当前消息数",
	},
	[]string{"queue"},
)

// WorkerBusy 当前正在处理的消息数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "subrelay_worker_busy",
		Help: "当前正在处理的消息数",
	},
	[]string{"worker_id"},
)

// Handler 暴露 DefaultRegistry 的标准 Prometheus handler（Worker 侧指标端口）
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}

// NewServer 构建仅挂 /metrics 的 HTTP Server，供没有管理面的 Worker 进程暴露指标
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

// WritePrometheus 将 Prometheus 文本格式写入 w（供管理面 HTTP 复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
