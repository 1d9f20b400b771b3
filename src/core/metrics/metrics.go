package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// RecognitionsTotal 识别请求数，按结果分类
	RecognitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scnai",
		Subsystem: "recognition",
		Name:      "requests_total",
		Help:      "Total number of recognition requests, labeled by result.",
	}, []string{"result"})

	// InferenceDurationSeconds 远程识别服务调用耗时
	InferenceDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scnai",
		Subsystem: "recognition",
		Name:      "inference_duration_seconds",
		Help:      "Time spent waiting for the inference service.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// DiagnosesTotal 识别出的病害类别
	DiagnosesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scnai",
		Subsystem: "recognition",
		Name:      "diagnoses_total",
		Help:      "Total number of diagnoses, labeled by disease code and severity.",
	}, []string{"code", "severity"})

	// ChatSessionsInFlight 正在进行的对话会话数
	ChatSessionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scnai",
		Subsystem: "chat",
		Name:      "sessions_in_flight",
		Help:      "Current number of chat sessions being streamed.",
	})

	// ChatSessionsTotal 对话会话数，按结束事件分类
	ChatSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scnai",
		Subsystem: "chat",
		Name:      "sessions_total",
		Help:      "Total number of chat sessions, labeled by terminal event.",
	}, []string{"result"})
)

// Register 注册到默认Registry，可重复调用
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			RecognitionsTotal,
			InferenceDurationSeconds,
			DiagnosesTotal,
			ChatSessionsInFlight,
			ChatSessionsTotal,
		)
	})
}

// Handler 暴露指标的gin处理函数
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
