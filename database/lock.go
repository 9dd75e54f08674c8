package database

import (
	"context"
	"sync"
	"time"

	"github.com/tky-kevin/travelkb/helper"
)

// CrawlLockKey is the advisory lock key shared by every crawl pass on one database.
const CrawlLockKey int64 = 0x74726176656c6b62

// TryCrawlLock takes the session-level advisory crawl lock without waiting.
// The lock lives on a dedicated connection that is returned to the pool by release.
// ok is false when another pass holds the lock.
func (h *ChunksDBHandler) TryCrawlLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := h.db.Instance.Conn(ctx)
	if err != nil {
		return nil, false, helper.NewError("acquire connection", err)
	}

	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, CrawlLockKey).Scan(&ok)
	if err != nil {
		conn.Close()
		return nil, false, helper.NewError("try advisory lock", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, CrawlLockKey); err != nil {
				h.db.Logger.Warn("Error releasing crawl lock", "error", err)
			}
			conn.Close()
		})
	}

	return release, true, nil
}
