package httpmiddleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"tinylink.local/internal/platform/metrics"
)

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPInflightRequests.Inc()       //正在处理的请求数+1
		defer metrics.HTTPInflightRequests.Dec() //请求处理结束

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		// 用 chi 的路由模板做 label，避免带参数的真实 path 造成高基数
		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "UNMATCHED"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern, strconv.Itoa(sw.Status())).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
	})
}
