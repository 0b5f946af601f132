package repo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"tinylink.local/internal/app/tinylink"
	"tinylink.local/internal/app/tinylink/cache"
)

const linkColumns = `id, owner_id, original_url, short_code, created_at, expires_at, usage_count, last_used_at, is_active`

// LinksRepo 是 links 表上的权威存储实现。
// filter（可选）挡掉确定不存在短码的查询；误判只多一次库查询，不影响正确性。
type LinksRepo struct {
	db     *pgxpool.Pool
	filter *cache.BloomFilter
}

func NewLinksRepo(db *pgxpool.Pool, filter *cache.BloomFilter) *LinksRepo {
	return &LinksRepo{
		db:     db,
		filter: filter,
	}
}

// WarmFilter 启动时把库里已有的短码灌进布隆过滤器。
func (r *LinksRepo) WarmFilter(ctx context.Context) (int, error) {
	if r.filter == nil {
		return 0, nil
	}
	dbctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx, `SELECT short_code FROM links`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return n, err
		}
		r.filter.Add(code)
		n++
	}
	return n, rows.Err()
}

// Create 插入新记录。
// lower(short_code) 唯一索引是并发创建的线性化点：撞车映射成 ErrAliasTaken，
// 自定义别名直接报给用户，生成码由上层换码重试。
func (r *LinksRepo) Create(ctx context.Context, link tinylink.Link) (tinylink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := r.db.QueryRow(dbctx, `
INSERT INTO links (owner_id, original_url, short_code, created_at, expires_at, usage_count, is_active)
VALUES ($1, $2, $3, $4, $5, 0, TRUE)
RETURNING `+linkColumns,
		link.OwnerID, link.OriginalURL, link.ShortCode, link.CreatedAt, link.ExpiresAt)

	created, err := scanLink(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tinylink.Link{}, tinylink.ErrAliasTaken
		}
		slog.Error("link insert failed", "code", link.ShortCode, "err", err)
		return tinylink.Link{}, err
	}

	if r.filter != nil {
		r.filter.Add(created.ShortCode)
	}
	return created, nil
}

func (r *LinksRepo) FindByCode(ctx context.Context, code string) (tinylink.Link, error) {
	if r.filter != nil && !r.filter.MightExist(code) {
		return tinylink.Link{}, tinylink.ErrLinkNotFound
	}

	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	row := r.db.QueryRow(dbctx,
		`SELECT `+linkColumns+` FROM links WHERE lower(short_code) = lower($1)`, code)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tinylink.Link{}, tinylink.ErrLinkNotFound
		}
		slog.Error("link lookup failed", "code", code, "err", err)
		return tinylink.Link{}, err
	}
	return link, nil
}

func (r *LinksRepo) FindActiveByURL(ctx context.Context, url string) (tinylink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	row := r.db.QueryRow(dbctx,
		`SELECT `+linkColumns+` FROM links WHERE original_url = $1 AND is_active = TRUE ORDER BY id LIMIT 1`, url)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tinylink.Link{}, tinylink.ErrLinkNotFound
		}
		slog.Error("link lookup by url failed", "err", err)
		return tinylink.Link{}, err
	}
	return link, nil
}

// Touch 原子 usage_count+1。
// 必须是加法 UPDATE 而不是读-改-写：两个并发未命中同时走到这里，
// 计数也一个都不能丢（last_used_at 后写胜出即可）。
func (r *LinksRepo) Touch(ctx context.Context, code string, at time.Time) (int64, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	var count int64
	err := r.db.QueryRow(dbctx, `
UPDATE links SET usage_count = usage_count + 1, last_used_at = $2
WHERE lower(short_code) = lower($1)
RETURNING usage_count`, code, at).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, tinylink.ErrLinkNotFound
		}
		slog.Error("link touch failed", "code", code, "err", err)
		return 0, err
	}
	return count, nil
}

// ApplyUsage 应用同步任务的回写。
// GREATEST 保证幂等且单调：重放同一快照是 no-op，旧快照不会让计数回退。
func (r *LinksRepo) ApplyUsage(ctx context.Context, code string, count int64, lastUsed time.Time) error {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	_, err := r.db.Exec(dbctx, `
UPDATE links SET
  usage_count  = GREATEST(usage_count, $2),
  last_used_at = GREATEST(COALESCE(last_used_at, 'epoch'::timestamptz), $3)
WHERE lower(short_code) = lower($1)`, code, count, lastUsed)
	if err != nil {
		slog.Error("usage apply failed", "code", code, "err", err)
	}
	return err
}

func (r *LinksRepo) Update(ctx context.Context, code string, upd tinylink.LinkUpdate) (tinylink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := r.db.QueryRow(dbctx, `
UPDATE links SET
  original_url = COALESCE($2, original_url),
  expires_at   = COALESCE($3, expires_at)
WHERE lower(short_code) = lower($1)
RETURNING `+linkColumns, code, upd.OriginalURL, upd.ExpiresAt)

	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tinylink.Link{}, tinylink.ErrLinkNotFound
		}
		slog.Error("link update failed", "code", code, "err", err)
		return tinylink.Link{}, err
	}
	return link, nil
}

func (r *LinksRepo) Delete(ctx context.Context, code string) error {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.db.Exec(dbctx, `DELETE FROM links WHERE lower(short_code) = lower($1)`, code)
	if err != nil {
		slog.Error("link delete failed", "code", code, "err", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return tinylink.ErrLinkNotFound
	}
	return nil
}

// DeactivateBatch 把 stale 的活跃记录翻成 inactive，返回被关闭的短码。
//
// 候选永远从 is_active = TRUE 里选、翻成 FALSE——方向写反的话这个扫描
// 什么都关不掉。三个条件各自独立评估；先被前一个条件关掉的记录不会
// 被后面的条件重复处理。
func (r *LinksRepo) DeactivateBatch(ctx context.Context, lastUsedBefore, now time.Time, limit int) ([]string, error) {
	dbctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conditions := []struct {
		name string
		sql  string
		args []any
	}{
		{
			// (a) 太久没被使用
			name: "inactive",
			sql: `UPDATE links SET is_active = FALSE WHERE id IN (
  SELECT id FROM links WHERE is_active = TRUE AND last_used_at < $1 LIMIT $2
) RETURNING short_code`,
			args: []any{lastUsedBefore, limit},
		},
		{
			// (b) 已按时间过期
			name: "expired",
			sql: `UPDATE links SET is_active = FALSE WHERE id IN (
  SELECT id FROM links WHERE is_active = TRUE AND expires_at < $1 LIMIT $2
) RETURNING short_code`,
			args: []any{now, limit},
		},
		{
			// (c) 创建后从未被使用，也没设有效期
			name: "never_used",
			sql: `UPDATE links SET is_active = FALSE WHERE id IN (
  SELECT id FROM links WHERE is_active = TRUE AND last_used_at IS NULL AND expires_at IS NULL AND created_at < $1 LIMIT $2
) RETURNING short_code`,
			args: []any{lastUsedBefore, limit},
		},
	}

	var codes []string
	for _, cond := range conditions {
		rows, err := r.db.Query(dbctx, cond.sql, cond.args...)
		if err != nil {
			slog.Error("deactivation batch failed", "condition", cond.name, "err", err)
			return codes, err
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return codes, err
			}
			codes = append(codes, code)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return codes, err
		}
		rows.Close()
	}
	return codes, nil
}

func (r *LinksRepo) SearchByURL(ctx context.Context, url string) ([]tinylink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx,
		`SELECT `+linkColumns+` FROM links WHERE original_url = $1 AND is_active = TRUE ORDER BY id`, url)
	if err != nil {
		slog.Error("link search failed", "err", err)
		return nil, err
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (r *LinksRepo) ListExpired(ctx context.Context, now time.Time) ([]tinylink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx,
		`SELECT `+linkColumns+` FROM links WHERE expires_at < $1 AND is_active = TRUE ORDER BY expires_at`, now)
	if err != nil {
		slog.Error("expired list failed", "err", err)
		return nil, err
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLink(row pgx.Row) (tinylink.Link, error) {
	var l tinylink.Link
	err := row.Scan(&l.ID, &l.OwnerID, &l.OriginalURL, &l.ShortCode,
		&l.CreatedAt, &l.ExpiresAt, &l.UsageCount, &l.LastUsedAt, &l.IsActive)
	return l, err
}

func scanLinks(rows pgx.Rows) ([]tinylink.Link, error) {
	var result []tinylink.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

var _ tinylink.LinkStore = (*LinksRepo)(nil)
