package tinylink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LinkStore 是链接的权威存储。
// lower(short_code) 上的唯一索引是短码唯一性的线性化点：
// 应用层所有预检都只是尽力而为。
type LinkStore interface {
	// Create 插入新记录；短码撞车返回 ErrAliasTaken。
	Create(ctx context.Context, link Link) (Link, error)
	// FindByCode 按短码查找（不区分大小写）；不存在返回 ErrLinkNotFound。
	FindByCode(ctx context.Context, code string) (Link, error)
	// FindActiveByURL 查找同一目标 URL 的活跃记录（幂等创建用）。
	FindActiveByURL(ctx context.Context, url string) (Link, error)
	// Touch 原子 usage_count+1 并更新 last_used_at，返回新计数。
	// 必须是加法更新：并发未命中不能互相丢增量。
	Touch(ctx context.Context, code string, at time.Time) (int64, error)
	// Update 应用所有者的修改，返回更新后的记录。
	Update(ctx context.Context, code string, upd LinkUpdate) (Link, error)
	// Delete 删除记录；不存在返回 ErrLinkNotFound。
	Delete(ctx context.Context, code string) error
	// DeactivateBatch 按三个独立条件把 stale 的活跃记录翻成 inactive，
	// 每个条件最多处理 limit 行，返回被关闭的短码。
	DeactivateBatch(ctx context.Context, lastUsedBefore, now time.Time, limit int) ([]string, error)
	// SearchByURL 返回目标 URL 对应的所有活跃记录。
	SearchByURL(ctx context.Context, url string) ([]Link, error)
	// ListExpired 返回已按时间过期但仍标记为活跃的记录。
	ListExpired(ctx context.Context, now time.Time) ([]Link, error)
}

// CachedURL 是 URL 影子缓存的一次查询结果。
// Negative 表示命中负缓存（此前确认过该短码不存在）。
type CachedURL struct {
	URL      string
	Hit      bool
	Negative bool
}

// URLCache 是短码到目标 URL 的影子缓存。可丢弃，可由数据库重建。
type URLCache interface {
	Get(ctx context.Context, code string) (CachedURL, error)
	Set(ctx context.Context, code, url string) error
	SetNotFound(ctx context.Context, code string) error
	Delete(ctx context.Context, code string) error
}

// Options 是 Service 的装配参数。零值字段采用默认值。
type Options struct {
	AnonExpiry          time.Duration // 匿名链接默认有效期
	InactivityThreshold time.Duration // 失活扫描的"多久没用"阈值
	OwnedCodeLen        int
	AnonCodeLen         int
	SweepBatchSize      int
	Now                 func() time.Time // 测试注入时钟
}

// createAttempts 是随机短码撞库后的重试上限。
// 按码空间算撞一次都少见，撞满只会发生在存储异常时。
const createAttempts = 5

// Service 实现链接的解析与生命周期管理：
// resolve / create / update / delete / deactivate_stale / stats。
//
// 读路径是 cache-aside：命中只碰缓存，未命中读库、同步记一次使用、回填缓存。
// 计数在缓存与数据库之间最终一致，由同步任务（sync.Syncer）定期收敛。
type Service struct {
	store   LinkStore
	urls    URLCache
	counter UsageCounter

	anonExpiry          time.Duration
	inactivityThreshold time.Duration
	ownedCodeLen        int
	anonCodeLen         int
	sweepBatchSize      int
	now                 func() time.Time
}

func NewService(store LinkStore, urls URLCache, counter UsageCounter, opts Options) *Service {
	s := &Service{
		store:               store,
		urls:                urls,
		counter:             counter,
		anonExpiry:          opts.AnonExpiry,
		inactivityThreshold: opts.InactivityThreshold,
		ownedCodeLen:        opts.OwnedCodeLen,
		anonCodeLen:         opts.AnonCodeLen,
		sweepBatchSize:      opts.SweepBatchSize,
		now:                 opts.Now,
	}
	if s.anonExpiry <= 0 {
		s.anonExpiry = 7 * 24 * time.Hour
	}
	if s.inactivityThreshold <= 0 {
		s.inactivityThreshold = 30 * 24 * time.Hour
	}
	if s.ownedCodeLen <= 0 {
		s.ownedCodeLen = 6
	}
	if s.anonCodeLen <= 0 {
		s.anonCodeLen = 10
	}
	if s.sweepBatchSize <= 0 {
		s.sweepBatchSize = 500
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Resolve 把短码解析成目标 URL。
//
// 命中路径（主路径）：只碰缓存——计数自增、记录使用时间、返回 URL，
// 不产生任何数据库 I/O。
// 未命中路径：读库做惰性过期/活跃判定，同步 Touch 一次（本次请求
// read-your-own-write），然后回填 URL 影子并把缓存计数抬高到库里的
// 新计数（只升不降，领先的未同步增量不受影响）。
//
// 缓存故障只降级为未命中：缓存是优化，不是正确性依赖。
func (s *Service) Resolve(ctx context.Context, code string) (string, error) {
	code = CanonicalCode(code)
	if code == "" {
		return "", ErrLinkNotFound
	}
	now := s.now()

	cached, err := s.urls.Get(ctx, code)
	if err != nil {
		slog.Warn("url cache get failed, falling back to store", "code", code, "err", err)
	} else if cached.Negative {
		return "", ErrLinkNotFound
	} else if cached.Hit {
		if err := s.counter.Incr(ctx, code, now); err != nil {
			// 丢一次缓存侧增量：下一次未命中会以库值重新回种
			slog.Warn("usage incr failed", "code", code, "err", err)
		}
		return cached.URL, nil
	}

	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			if err := s.urls.SetNotFound(ctx, code); err != nil {
				slog.Warn("negative cache set failed", "code", code, "err", err)
			}
		}
		return "", err
	}
	if link.Expired(now) {
		return "", ErrLinkExpired
	}
	if !link.IsActive {
		return "", ErrLinkDeactivated
	}

	count, err := s.store.Touch(ctx, code, now)
	if err != nil {
		return "", err
	}

	if err := s.urls.Set(ctx, code, link.OriginalURL); err != nil {
		slog.Warn("url cache set failed", "code", code, "err", err)
	}
	if err := s.counter.Seed(ctx, code, count, now); err != nil {
		slog.Warn("usage seed failed", "code", code, "err", err)
	}
	return link.OriginalURL, nil
}

// Create 创建短链。
//
// 规则：
// - 自定义别名归一成小写后校验；缓存影子里已有同名短码时直接拒绝
//   （尽力而为的预检，数据库唯一索引才是最终裁决）
// - 同一目标 URL 已有活跃记录时直接复用（幂等创建）
// - 匿名创建且未指定有效期时，默认 now + AnonExpiry；已过期的有效期拒绝
// - 生成码：登录用户 6 位、匿名 10 位，撞库重试
func (s *Service) Create(ctx context.Context, originalURL string, ownerID *string, customAlias *string, expiresAt *time.Time) (Link, error) {
	now := s.now()
	originalURL = strings.TrimSpace(originalURL)
	if err := ValidateURL(originalURL); err != nil {
		return Link{}, err
	}

	alias := ""
	if customAlias != nil && strings.TrimSpace(*customAlias) != "" {
		alias = CanonicalCode(*customAlias)
		if err := ValidateAlias(alias); err != nil {
			return Link{}, err
		}
		if cached, err := s.urls.Get(ctx, alias); err == nil && cached.Hit && !cached.Negative {
			return Link{}, ErrAliasTaken
		}
	}

	existing, err := s.store.FindActiveByURL(ctx, originalURL)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrLinkNotFound) {
		return Link{}, err
	}

	exp := expiresAt
	if ownerID == nil && exp == nil {
		t := now.Add(s.anonExpiry)
		exp = &t
	}
	if exp != nil && exp.Before(now) {
		return Link{}, ErrPastExpiry
	}

	link := Link{
		OwnerID:     ownerID,
		OriginalURL: originalURL,
		CreatedAt:   now,
		ExpiresAt:   exp,
		IsActive:    true,
	}

	if alias != "" {
		link.ShortCode = alias
		created, err := s.store.Create(ctx, link)
		if err != nil {
			return Link{}, err
		}
		s.warm(ctx, created)
		return created, nil
	}

	length := s.ownedCodeLen
	if ownerID == nil {
		length = s.anonCodeLen
	}
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := NewCode(length)
		if err != nil {
			return Link{}, err
		}
		link.ShortCode = code
		created, err := s.store.Create(ctx, link)
		if err == nil {
			s.warm(ctx, created)
			return created, nil
		}
		if !errors.Is(err, ErrAliasTaken) {
			return Link{}, err
		}
		// 撞码：换一个重试
	}
	return Link{}, fmt.Errorf("short code generation: %d attempts exhausted", createAttempts)
}

// warm 在创建成功后预热缓存：URL 影子 + 零计数。
// 这同时覆盖了此前可能存在的负缓存，避免刚创建的短码暂时不可用。
func (s *Service) warm(ctx context.Context, link Link) {
	if err := s.urls.Set(ctx, link.ShortCode, link.OriginalURL); err != nil {
		slog.Warn("cache warm failed", "code", link.ShortCode, "err", err)
	}
	if err := s.counter.Seed(ctx, link.ShortCode, 0, time.Time{}); err != nil {
		slog.Warn("usage seed failed", "code", link.ShortCode, "err", err)
	}
}

// Update 应用所有者对目标 URL/有效期的修改。
// 只有所有者可以改；URL 影子随即失效，计数与最近使用时间保留
// （编辑不改变"被用过多少次"这一事实）。
func (s *Service) Update(ctx context.Context, code string, ownerID string, upd LinkUpdate) (Link, error) {
	code = CanonicalCode(code)
	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return Link{}, err
	}
	if !link.OwnedBy(ownerID) {
		return Link{}, ErrNotOwner
	}
	if upd.OriginalURL != nil {
		if err := ValidateURL(*upd.OriginalURL); err != nil {
			return Link{}, err
		}
	}
	if upd.ExpiresAt != nil && upd.ExpiresAt.Before(s.now()) {
		return Link{}, ErrPastExpiry
	}

	updated, err := s.store.Update(ctx, code, upd)
	if err != nil {
		return Link{}, err
	}
	if err := s.urls.Delete(ctx, code); err != nil {
		slog.Warn("cache invalidate failed", "code", code, "err", err)
	}
	return updated, nil
}

// Delete 删除所有者的链接，连同全部缓存条目（URL 影子、计数、最近使用时间）。
func (s *Service) Delete(ctx context.Context, code string, ownerID string) error {
	code = CanonicalCode(code)
	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return err
	}
	if !link.OwnedBy(ownerID) {
		return ErrNotOwner
	}
	if err := s.store.Delete(ctx, code); err != nil {
		return err
	}
	if err := s.urls.Delete(ctx, code); err != nil {
		slog.Warn("cache invalidate failed", "code", code, "err", err)
	}
	if err := s.counter.Remove(ctx, code); err != nil {
		slog.Warn("usage remove failed", "code", code, "err", err)
	}
	return nil
}

// DeactivateStale 执行一轮失活扫描，返回本轮关闭的链接数。
//
// 候选条件（对 is_active=true 的记录，各自独立评估）：
// (a) last_used_at 早于不活跃阈值
// (b) expires_at 已过
// (c) 从未被使用、无有效期、created_at 早于同一阈值
//
// 每个被关闭的短码必须同时失效 URL 影子缓存：否则缓存命中会继续
// 服务一个已被关闭的链接。
func (s *Service) DeactivateStale(ctx context.Context) (int, error) {
	now := s.now()
	threshold := now.Add(-s.inactivityThreshold)

	total := 0
	for {
		codes, err := s.store.DeactivateBatch(ctx, threshold, now, s.sweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(codes) == 0 {
			break
		}
		for _, code := range codes {
			if err := s.urls.Delete(ctx, code); err != nil {
				slog.Warn("cache invalidate failed", "code", code, "err", err)
			}
		}
		total += len(codes)
	}
	if total > 0 {
		slog.Info("deactivation sweep finished", "deactivated", total)
	}
	return total, nil
}

// Get 返回短码对应的链接记录（库里的权威视图，不含缓存侧领先量）。
func (s *Service) Get(ctx context.Context, code string) (Link, error) {
	return s.store.FindByCode(ctx, CanonicalCode(code))
}

// Stats 返回单个短码的使用统计。
// 点击数优先取缓存侧计数——它可能领先于库值；缓存里没有时退回库值。
func (s *Service) Stats(ctx context.Context, code string) (LinkStats, error) {
	code = CanonicalCode(code)
	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return LinkStats{}, err
	}

	stats := LinkStats{
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		CreatedAt:   link.CreatedAt,
		Clicks:      link.UsageCount,
		LastUsedAt:  link.LastUsedAt,
	}
	if entry, ok, err := s.counter.Peek(ctx, code); err == nil && ok {
		if entry.Count > stats.Clicks {
			stats.Clicks = entry.Count
		}
		if !entry.LastUsed.IsZero() {
			t := entry.LastUsed
			stats.LastUsedAt = &t
		}
	}
	return stats, nil
}

// Search 返回目标 URL 对应的所有活跃链接。
func (s *Service) Search(ctx context.Context, originalURL string) ([]Link, error) {
	return s.store.SearchByURL(ctx, strings.TrimSpace(originalURL))
}

// ListExpired 返回已过期但还未被扫描关闭的链接。
func (s *Service) ListExpired(ctx context.Context) ([]Link, error) {
	return s.store.ListExpired(ctx, s.now())
}
