package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteTier struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Tier = (*sqliteTier)(nil)

// NewSQLite returns the on-disk L2 tier, backed by a SQLite database.
// If dbPath is empty or ":memory:", an in-memory database is used (tests).
// Values are serialized to msgpack and stored as BLOBs; WAL mode is enabled
// for concurrent read performance. Entries beyond the configured cap are
// trimmed least-recently-accessed first.
func NewSQLite(parent context.Context, dbPath string, opts ...Option) (Tier, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// Indexes back the sweep (expires_at) and LRU trim (accessed_at).
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_accessed_at ON cache(accessed_at)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	c := &sqliteTier{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	c.waitGroup.Add(1)
	go c.run()

	return c, nil
}

func (c *sqliteTier) Name() string { return "disk" }

func (c *sqliteTier) DefaultTTL() time.Duration { return c.cfg.defaultTTL }

func (c *sqliteTier) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteTier) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	now := time.Now().UnixNano()
	var data []byte
	var expiresAt int64
	err := c.db.QueryRowContext(qctx,
		`SELECT value, expires_at FROM cache WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if expiresAt < now {
		// Lazily delete the expired entry.
		_, _ = c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return false, nil, nil
	}

	// Touch for LRU ordering.
	_, _ = c.db.ExecContext(qctx, `UPDATE cache SET accessed_at = ? WHERE key = ?`, now, key)

	return true, data, nil
}

func (c *sqliteTier) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	data, err := encode(val)
	if err != nil {
		return err
	}

	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	now := time.Now()
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at, accessed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, accessed_at = excluded.accessed_at`,
		key, data, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return err
	}
	if c.cfg.maxEntries > 0 {
		return c.trim(qctx)
	}
	return nil
}

// trim drops least-recently-accessed rows until the entry cap holds.
func (c *sqliteTier) trim(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM cache WHERE key IN (
			SELECT key FROM cache ORDER BY accessed_at DESC LIMIT -1 OFFSET ?
		)`, c.cfg.maxEntries)
	return err
}

func (c *sqliteTier) Invalidate(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	result, err := c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (c *sqliteTier) Clear(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	_, err := c.db.ExecContext(qctx, `DELETE FROM cache`)
	return err
}

func (c *sqliteTier) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteTier) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = c.db.Exec(`DELETE FROM cache WHERE expires_at < ?`, now)
		}
	}
}
