package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/app/tinylink/stats"
	"tinylink.local/internal/platform/auth"
)

// ---- 内存假存储/缓存，只覆盖 handler 测试需要的行为 ----

type memStore struct {
	mu     sync.Mutex
	links  map[string]*tinylink.Link
	nextID int64
}

func newMemStore() *memStore { return &memStore{links: map[string]*tinylink.Link{}} }

func (s *memStore) Create(ctx context.Context, link tinylink.Link) (tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(link.ShortCode)
	if _, ok := s.links[key]; ok {
		return tinylink.Link{}, tinylink.ErrAliasTaken
	}
	s.nextID++
	link.ID = s.nextID
	cp := link
	s.links[key] = &cp
	return link, nil
}

func (s *memStore) FindByCode(ctx context.Context, code string) (tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[strings.ToLower(code)]
	if !ok {
		return tinylink.Link{}, tinylink.ErrLinkNotFound
	}
	return *l, nil
}

func (s *memStore) FindActiveByURL(ctx context.Context, url string) (tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.OriginalURL == url && l.IsActive {
			return *l, nil
		}
	}
	return tinylink.Link{}, tinylink.ErrLinkNotFound
}

func (s *memStore) Touch(ctx context.Context, code string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[strings.ToLower(code)]
	if !ok {
		return 0, tinylink.ErrLinkNotFound
	}
	l.UsageCount++
	t := at
	l.LastUsedAt = &t
	return l.UsageCount, nil
}

func (s *memStore) Update(ctx context.Context, code string, upd tinylink.LinkUpdate) (tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[strings.ToLower(code)]
	if !ok {
		return tinylink.Link{}, tinylink.ErrLinkNotFound
	}
	if upd.OriginalURL != nil {
		l.OriginalURL = *upd.OriginalURL
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		l.ExpiresAt = &t
	}
	return *l, nil
}

func (s *memStore) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(code)
	if _, ok := s.links[key]; !ok {
		return tinylink.ErrLinkNotFound
	}
	delete(s.links, key)
	return nil
}

func (s *memStore) DeactivateBatch(ctx context.Context, lastUsedBefore, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for _, l := range s.links {
		if l.IsActive && l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			l.IsActive = false
			codes = append(codes, l.ShortCode)
		}
	}
	return codes, nil
}

func (s *memStore) SearchByURL(ctx context.Context, url string) ([]tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tinylink.Link
	for _, l := range s.links {
		if l.OriginalURL == url && l.IsActive {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) ListExpired(ctx context.Context, now time.Time) ([]tinylink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tinylink.Link
	for _, l := range s.links {
		if l.IsActive && l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) setActive(code string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.links[strings.ToLower(code)]; ok {
		l.IsActive = active
	}
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]tinylink.CachedURL
}

func newMemCache() *memCache { return &memCache{entries: map[string]tinylink.CachedURL{}} }

func (c *memCache) Get(ctx context.Context, code string) (tinylink.CachedURL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[code], nil
}

func (c *memCache) Set(ctx context.Context, code, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = tinylink.CachedURL{URL: url, Hit: true}
	return nil
}

func (c *memCache) SetNotFound(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = tinylink.CachedURL{Hit: true, Negative: true}
	return nil
}

func (c *memCache) Delete(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	return nil
}

type memCounter struct {
	mu      sync.Mutex
	entries map[string]tinylink.UsageEntry
}

func newMemCounter() *memCounter { return &memCounter{entries: map[string]tinylink.UsageEntry{}} }

func (c *memCounter) Incr(ctx context.Context, code string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[code]
	e.Code = code
	e.Count++
	e.LastUsed = at
	c.entries[code] = e
	return nil
}

func (c *memCounter) Seed(ctx context.Context, code string, count int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[code]
	e.Code = code
	if count > e.Count { // ZADD GT 语义
		e.Count = count
	}
	if !at.IsZero() {
		e.LastUsed = at
	}
	c.entries[code] = e
	return nil
}

func (c *memCounter) Remove(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	return nil
}

func (c *memCounter) Peek(ctx context.Context, code string) (tinylink.UsageEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[code]
	return e, ok, nil
}

func (c *memCounter) Snapshot(ctx context.Context) ([]tinylink.UsageEntry, error) {
	return nil, nil
}

func (c *memCache) evict(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
}

type apiEnv struct {
	store     *memStore
	cache     *memCache
	ts        auth.TokenService
	collector *stats.ChannelCollector
	srv       *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	svc := tinylink.NewService(store, cache, newMemCounter(), tinylink.Options{})
	ts, err := auth.NewHS256Service("test-secret", "tinylink", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	collector := stats.NewChannelCollector(16)

	r := chi.NewRouter()
	Register(r, NewHandlers(svc, collector), ts)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &apiEnv{store: store, cache: cache, ts: ts, collector: collector, srv: srv}
}

func (e *apiEnv) token(t *testing.T, owner, role string) string {
	t.Helper()
	tok, err := e.ts.Sign(owner, role)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (e *apiEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // 不要跟随 302
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *apiEnv) createLink(t *testing.T, token, body string) linkResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/links", token, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

// ---- 测试 ----

func TestRedirect(t *testing.T) {
	env := newAPIEnv(t)
	link := env.createLink(t, "", `{"original_url":"https://example.com/target"}`)

	resp := env.do(t, http.MethodGet, "/"+link.ShortCode, "", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/target" {
		t.Fatalf("location = %q", loc)
	}

	// 跳转发出点击事件
	select {
	case ev := <-env.collector.Events():
		if ev.Code != link.ShortCode {
			t.Fatalf("event code = %q, want %q", ev.Code, link.ShortCode)
		}
	case <-time.After(time.Second):
		t.Fatal("no click event emitted")
	}
}

func TestRedirectUnknown(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/nosuchcode", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRedirectDeactivated(t *testing.T) {
	env := newAPIEnv(t)
	link := env.createLink(t, "", `{"original_url":"https://example.com/gone"}`)
	env.store.setActive(link.ShortCode, false)
	// 打掉创建时预热的缓存影子，模拟 TTL 到期后的未命中路径
	env.cache.evict(link.ShortCode)

	resp := env.do(t, http.MethodGet, "/"+link.ShortCode, "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCreateAnonymousGetsLongCodeAndExpiry(t *testing.T) {
	env := newAPIEnv(t)
	link := env.createLink(t, "", `{"original_url":"https://example.com/anon"}`)
	if len(link.ShortCode) != 10 {
		t.Fatalf("anon code length = %d, want 10", len(link.ShortCode))
	}
	if link.ExpiresAt == nil {
		t.Fatal("anon link missing default expiry")
	}
}

func TestCreateOwnedGetsShortCode(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice", "user")
	link := env.createLink(t, token, `{"original_url":"https://example.com/owned"}`)
	if len(link.ShortCode) != 6 {
		t.Fatalf("owned code length = %d, want 6", len(link.ShortCode))
	}
	if link.ExpiresAt != nil {
		t.Fatal("owned link should not get default expiry")
	}
}

func TestCreateAliasConflict(t *testing.T) {
	env := newAPIEnv(t)
	env.createLink(t, "", `{"original_url":"https://example.com/a","custom_alias":"mylink"}`)

	resp := env.do(t, http.MethodPost, "/api/v1/links", "",
		`{"original_url":"https://example.com/b","custom_alias":"mylink"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateInvalidURL(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/links", "", `{"original_url":"ftp://nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateRequiresAuthAndOwnership(t *testing.T) {
	env := newAPIEnv(t)
	alice := env.token(t, "alice", "user")
	link := env.createLink(t, alice, `{"original_url":"https://example.com/mine"}`)

	// 无 token
	resp := env.do(t, http.MethodPut, "/api/v1/links/"+link.ShortCode, "",
		`{"original_url":"https://example.com/changed"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// 非属主
	bob := env.token(t, "bob", "user")
	resp = env.do(t, http.MethodPut, "/api/v1/links/"+link.ShortCode, bob,
		`{"original_url":"https://example.com/changed"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	// 属主
	resp = env.do(t, http.MethodPut, "/api/v1/links/"+link.ShortCode, alice,
		`{"original_url":"https://example.com/changed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteOwned(t *testing.T) {
	env := newAPIEnv(t)
	alice := env.token(t, "alice", "user")
	link := env.createLink(t, alice, `{"original_url":"https://example.com/bye"}`)

	resp := env.do(t, http.MethodDelete, "/api/v1/links/"+link.ShortCode, alice, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/links/"+link.ShortCode, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", resp.StatusCode)
	}
}

func TestGetLinkReturnsRecord(t *testing.T) {
	env := newAPIEnv(t)
	link := env.createLink(t, "", `{"original_url":"https://example.com/record"}`)

	resp := env.do(t, http.MethodGet, "/api/v1/links/"+link.ShortCode, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 记录视图，不是统计视图：带 is_active 和库里的权威计数
	if got.ShortCode != link.ShortCode || got.OriginalURL != "https://example.com/record" {
		t.Fatalf("got = %+v", got)
	}
	if !got.IsActive {
		t.Fatal("fresh link reported inactive")
	}
	if got.UsageCount != 0 {
		t.Fatalf("usage_count = %d, want store value 0", got.UsageCount)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	link := env.createLink(t, "", `{"original_url":"https://example.com/stats"}`)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodGet, "/"+link.ShortCode, "", "")
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("redirect status = %d", resp.StatusCode)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/v1/links/"+link.ShortCode+"/stats", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var got tinylink.LinkStats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Clicks != 2 {
		t.Fatalf("clicks = %d, want 2", got.Clicks)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.createLink(t, "", `{"original_url":"https://example.com/findme"}`)

	resp := env.do(t, http.MethodGet, "/api/v1/links/search?original_url=https%3A%2F%2Fexample.com%2Ffindme", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out []linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("results = %d, want 1", len(out))
	}

	resp = env.do(t, http.MethodGet, "/api/v1/links/search", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing param status = %d, want 400", resp.StatusCode)
	}
}

func TestDeactivateStaleRequiresAdmin(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/links/deactivate_stale", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	user := env.token(t, "alice", "user")
	resp = env.do(t, http.MethodPost, "/api/v1/links/deactivate_stale", user, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", resp.StatusCode)
	}

	admin := env.token(t, "root", "admin")
	resp = env.do(t, http.MethodPost, "/api/v1/links/deactivate_stale", admin, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", resp.StatusCode)
	}
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["deactivated"]; !ok {
		t.Fatal("response missing deactivated count")
	}
}
