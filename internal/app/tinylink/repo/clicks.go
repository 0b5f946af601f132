package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"tinylink.local/internal/app/tinylink/stats"
)

// ClicksRepo 写 link_clicks 明细表。
type ClicksRepo struct {
	db *pgxpool.Pool
}

func NewClicksRepo(db *pgxpool.Pool) *ClicksRepo {
	return &ClicksRepo{db: db}
}

func (r *ClicksRepo) InsertClicks(ctx context.Context, events []stats.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
INSERT INTO link_clicks (code, clicked_at, ip, user_agent, referer)
VALUES ($1, $2, $3, $4, $5)`,
			ev.Code, ev.ClickedAt, ev.IP, ev.UserAgent, ev.Referer)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

var _ stats.Sink = (*ClicksRepo)(nil)
