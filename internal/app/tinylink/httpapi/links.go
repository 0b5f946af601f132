package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/app/tinylink/stats"
	"tinylink.local/internal/platform/auth"
	"tinylink.local/internal/platform/metrics"
)

type createLinkRequest struct {
	OriginalURL string     `json:"original_url"`
	CustomAlias *string    `json:"custom_alias,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type linkResponse struct {
	ShortCode   string     `json:"short_code"`
	OriginalURL string     `json:"original_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

type updateLinkRequest struct {
	OriginalURL *string    `json:"original_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toLinkResponse(l tinylink.Link) linkResponse {
	return linkResponse{
		ShortCode:   l.ShortCode,
		OriginalURL: l.OriginalURL,
		CreatedAt:   l.CreatedAt,
		ExpiresAt:   l.ExpiresAt,
		UsageCount:  l.UsageCount,
		LastUsedAt:  l.LastUsedAt,
		IsActive:    l.IsActive,
	}
}

// Redirect 是跳转入口：解析短码并 302 到目标 URL。
// 过期与已失活要区分开回给调用方：410 表示"曾经有、现在到期了"，
// 403 表示"被关闭了"。
func (h *Handlers) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	url, err := h.svc.Resolve(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.LinkRedirects.Inc()
	h.collector.Collect(stats.ClickEvent{
		Code:      tinylink.CanonicalCode(code),
		ClickedAt: time.Now(),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	})

	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ownerID *string
	if id, ok := auth.GetIdentity(r.Context()); ok {
		ownerID = &id.OwnerID
	}

	link, err := h.svc.Create(r.Context(), req.OriginalURL, ownerID, req.CustomAlias, req.ExpiresAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLinkResponse(link))
}

func (h *Handlers) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

func (h *Handlers) LinkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	link, err := h.svc.Update(r.Context(), chi.URLParam(r, "code"), id.OwnerID, tinylink.LinkUpdate{
		OriginalURL: req.OriginalURL,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

func (h *Handlers) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "code"), id.OwnerID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SearchLinks(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("original_url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "original_url query parameter required")
		return
	}
	links, err := h.svc.Search(r.Context(), url)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ListExpired(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.ListExpired(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// DeactivateStale 手动触发一轮失活扫描（admin）。
// 定时扫描照常跑，这个入口给运维排障和压测用。
func (h *Handlers) DeactivateStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeactivateStale(r.Context())
	if err != nil {
		slog.Error("manual deactivation sweep failed", "err", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	metrics.LinksDeactivatedTotal.Add(float64(n))
	writeJSON(w, http.StatusOK, map[string]int{"deactivated": n})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeDomainError 把领域错误映射成 HTTP 状态码。
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tinylink.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, "link not found")
	case errors.Is(err, tinylink.ErrLinkExpired):
		writeError(w, http.StatusGone, "link expired")
	case errors.Is(err, tinylink.ErrLinkDeactivated):
		writeError(w, http.StatusForbidden, "link deactivated")
	case errors.Is(err, tinylink.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not the link owner")
	case errors.Is(err, tinylink.ErrAliasTaken):
		writeError(w, http.StatusConflict, "custom alias already taken")
	case errors.Is(err, tinylink.ErrPastExpiry),
		errors.Is(err, tinylink.ErrInvalidURL),
		errors.Is(err, tinylink.ErrInvalidAlias):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
