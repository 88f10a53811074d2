package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 处理流程指标
var (
	// TasksTotal 按结果统计处理过的任务：done、download_error、postprocess_error、duplicate、error
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytdl_tasks_total",
			Help: "处理过的下载任务数量",
		},
		[]string{"result"},
	)

	// DownloadDuration yt-dlp 单次下载耗时
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytdl_download_duration_seconds",
			Help:    "yt-dlp 下载耗时（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"host"},
	)

	// PostProcessDuration 单个后处理步骤耗时
	PostProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytdl_postprocess_duration_seconds",
			Help:    "后处理步骤耗时（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"step", "result"},
	)

	// MessagesTotal 消费的消息：ack、reject
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytdl_messages_total",
			Help: "消费的 RabbitMQ 消息数量",
		},
		[]string{"outcome"},
	)

	// PublishTotal 发布结果：confirmed、unconfirmed、returned
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytdl_publish_total",
			Help: "发布到 RabbitMQ 的消息数量",
		},
		[]string{"exchange", "result"},
	)

	// InFlight 正在处理的消息
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytdl_inflight_messages",
		Help: "正在处理的消息数量",
	})

	// CleanupRemovedTotal 定时清理删除的目录与任务
	CleanupRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytdl_cleanup_removed_total",
			Help: "定时清理删除的对象数量",
		},
		[]string{"kind"},
	)
)

// HTTP 指标
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytdl_http_requests_total",
			Help: "HTTP 请求数量",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytdl_http_request_duration_seconds",
			Help:    "HTTP 请求耗时（秒）",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveSince 记录从 start 开始的耗时
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// GinMiddleware 记录请求数量与耗时，路径使用路由模板避免标签膨胀
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
