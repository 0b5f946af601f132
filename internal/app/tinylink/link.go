package tinylink

import (
	"errors"
	"strings"
	"time"
)

// Link 是链接记录的领域对象。数据库是它的权威数据源（system of record）；
// 缓存里只存在它的影子（URL、计数、最近使用时间），丢了可以重建。
//
// UsageCount 在数据库侧单调不减；缓存侧的计数可能领先（尚未回写）。
type Link struct {
	ID          int64
	OwnerID     *string // 为空表示匿名创建
	OriginalURL string
	ShortCode   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // 为空表示不按时间过期
	UsageCount  int64
	LastUsedAt  *time.Time
	IsActive    bool
}

// LinkUpdate 是所有者可修改的字段。nil 表示保持不变——这个接口
// 只能把 expires_at 改成另一个时间，不能把已有的有效期清空。
type LinkUpdate struct {
	OriginalURL *string
	ExpiresAt   *time.Time
}

// LinkStats 是单个短码的使用统计视图。
// Clicks 优先取缓存侧计数（可能领先于库里的权威值）。
type LinkStats struct {
	ShortCode   string     `json:"short_code"`
	OriginalURL string     `json:"original_url"`
	CreatedAt   time.Time  `json:"created_at"`
	Clicks      int64      `json:"clicks"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// 业务结果错误：这些是预期内的结局，按类型返回给调用方，不算故障。
var (
	ErrLinkNotFound    = errors.New("link not found")
	ErrLinkExpired     = errors.New("link expired")
	ErrLinkDeactivated = errors.New("link deactivated")
	ErrNotOwner        = errors.New("not the link owner")
	ErrAliasTaken      = errors.New("custom alias already taken")
	ErrPastExpiry      = errors.New("expiration date in the past")
)

// CanonicalCode 把短码归一成规范形式。
// 查找不区分大小写，所以创建时就落成小写，视觉上不同但归一后相同的
// 自定义别名会在唯一索引上撞车，而不是悄悄共存。
func CanonicalCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Expired 判断记录在 now 时刻是否已按时间过期（读取路径上的惰性判定）。
func (l Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// OwnedBy 判断 ownerID 是否是该链接的所有者。匿名链接没有所有者。
func (l Link) OwnedBy(ownerID string) bool {
	return l.OwnerID != nil && ownerID != "" && *l.OwnerID == ownerID
}
