package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/app/tinylink/stats"
	"tinylink.local/internal/platform/auth"
	"tinylink.local/internal/platform/httpmiddleware"
)

// Handlers 聚合链接相关的 HTTP 处理器。
type Handlers struct {
	svc       *tinylink.Service
	collector stats.Collector
}

func NewHandlers(svc *tinylink.Service, collector stats.Collector) *Handlers {
	if collector == nil {
		collector = stats.NopCollector{}
	}
	return &Handlers{svc: svc, collector: collector}
}

// Register 挂载全部路由。
//
// 跳转路由在根路径（短链要短），管理 API 在 /api/v1 下。
// 写操作要求登录；创建与查询允许匿名（匿名创建的链接没有属主，
// 之后不能再编辑或删除）。
func Register(r chi.Router, h *Handlers, ts auth.TokenService) {
	r.Get("/{code}", h.Redirect)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpmiddleware.AuthOptional(ts))

		api.Post("/links", h.CreateLink)
		api.Get("/links/search", h.SearchLinks)
		api.Get("/links/expired", h.ListExpired)
		api.Get("/links/{code}", h.GetLink)
		api.Get("/links/{code}/stats", h.LinkStats)

		api.Group(func(priv chi.Router) {
			priv.Use(httpmiddleware.AuthRequired(ts))
			priv.Put("/links/{code}", h.UpdateLink)
			priv.Delete("/links/{code}", h.DeleteLink)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AuthRequired(ts), httpmiddleware.RequireRole("admin"))
			admin.Post("/links/deactivate_stale", h.DeactivateStale)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
