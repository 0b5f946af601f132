package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// once 用来保证指标只注册一次。
	// Prometheus 的 registry 不允许重复注册同名指标，否则会直接 panic。
	once sync.Once

	// HTTPRequestsTotal：累计请求数（Counter）。
	//
	// labels：
	// - method：HTTP 方法，例如 GET/POST
	// - route：路由模板（用 pattern 而不是带参数的真实 path，否则会产生无限 label）
	// - status：HTTP 状态码字符串
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP请求的总数",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds：请求耗时分布（Histogram），用于算 P95/P99。
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPInflightRequests：当前正在处理中的请求数（Gauge）。
	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// CacheOperations：URL 影子缓存的查询结果分布。
	//
	// labels：
	// - level：l1（进程内）/ l2（Redis）
	// - result：hit / miss / hit_negative
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_cache_operations_total",
			Help: "URL 缓存查询结果（按层与结果分类）",
		},
		[]string{"level", "result"},
	)

	// LinkRedirects：成功跳转次数。
	LinkRedirects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "link_redirects_total",
			Help: "成功的短链跳转次数",
		},
	)

	// UsageSyncedTotal：usage 同步任务回写数据库的短码条数。
	UsageSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "link_usage_synced_total",
			Help: "由同步任务回写到数据库的使用计数条数",
		},
	)

	// LinksDeactivatedTotal：失活扫描累计关闭的链接数。
	LinksDeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "links_deactivated_total",
			Help: "被失活扫描关闭的链接数",
		},
	)
)

// Init 注册指标：只允许注册一次（否则 panic: duplicate metrics collector registration）
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			CacheOperations,
			LinkRedirects,
			UsageSyncedTotal,
			LinksDeactivatedTotal,
		)
	})
}
