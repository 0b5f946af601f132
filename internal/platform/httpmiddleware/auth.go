package httpmiddleware

import (
	"net/http"
	"strings"

	"tinylink.local/internal/platform/auth"
)

// parseBearer 解析 Authorization header 中的 Bearer token。
// 格式不正确返回空字符串。
func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// AuthRequired 要求请求必须携带有效的 JWT token
func AuthRequired(ts auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			token := parseBearer(header)
			if token == "" {
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)
				return
			}
			claim, err := ts.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{
				OwnerID: claim.OwnerID,
				Role:    claim.Role,
			}))
			next.ServeHTTP(w, r)
		})
	}
}

// AuthOptional 可选认证：有 token 则解析，无 token 或 token 无效则按匿名继续
func AuthOptional(ts auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := parseBearer(header)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claim, err := ts.Verify(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{
				OwnerID: claim.OwnerID,
				Role:    claim.Role,
			}))
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole 要求已认证主体具有指定角色
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.GetIdentity(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if id.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
