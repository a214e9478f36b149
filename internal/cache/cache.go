// Package cache implements the Selector Cache (spec C4): a dual-layer
// read-through/write-through cache over discovered selectors. The fast layer
// is an in-memory map guarded by a mutex (the shape of session_manager.go's
// eventThrottler); the durable layer is a SQLite table so cache entries
// survive process restarts, following internal/store/local_session.go's
// database/sql + mutex + category-logged-timer convention.
package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Cache is the dual-layer selector cache.
type Cache struct {
	cfg *config.Config

	mu   sync.RWMutex
	fast map[model.CacheKey]*model.CacheEntry

	db *sql.DB
}

// Open creates (or attaches to) the durable SQLite-backed cache at dbPath and
// loads its contents into the fast layer.
func Open(cfg *config.Config, dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS selector_cache (
		key TEXT PRIMARY KEY,
		selector TEXT NOT NULL,
		strategy TEXT NOT NULL,
		stable INTEGER NOT NULL,
		confidence REAL NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		misses INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP NOT NULL,
		context_hash TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	c := &Cache{cfg: cfg, fast: make(map[model.CacheKey]*model.CacheEntry), db: db}
	if err := c.loadFastLayer(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadFastLayer() error {
	timer := logging.StartTimer(logging.CategoryCache, "loadFastLayer")
	defer timer.Stop()

	rows, err := c.db.Query(`SELECT key, selector, strategy, stable, confidence, hits, misses, created_at, last_used_at, context_hash FROM selector_cache`)
	if err != nil {
		return fmt.Errorf("load cache rows: %w", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var e model.CacheEntry
		var key, contextHash sql.NullString
		var stable int
		if err := rows.Scan(&key, &e.Selector, &e.Strategy, &stable, &e.Confidence, &e.Hits, &e.Misses, &e.CreatedAt, &e.LastUsedAt, &contextHash); err != nil {
			return fmt.Errorf("scan cache row: %w", err)
		}
		e.Key = model.CacheKey(key.String)
		e.Stable = stable != 0
		e.ContextHash = contextHash.String
		entry := e
		c.fast[entry.Key] = &entry
	}
	return rows.Err()
}

// Key derives a cache key from origin, normalized label, and an optional
// context hash (spec §4.4: "hash(origin, normalize(label), optional
// context)").
func Key(origin, label, contextHash string) model.CacheKey {
	norm := normalize(label)
	if contextHash == "" {
		return model.CacheKey(fmt.Sprintf("%s|%s", origin, norm))
	}
	return model.CacheKey(fmt.Sprintf("%s|%s|%s", origin, norm, contextHash))
}

func normalize(label string) string {
	out := make([]rune, 0, len(label))
	prevSpace := false
	for _, r := range label {
		if r == ' ' || r == '\t' || r == '\n' {
			if !prevSpace {
				out = append(out, ' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

// Lookup returns the cached entry for key, if present. Fast-layer hit avoids
// touching SQLite at all on the common path (spec §4.4 performance intent).
func (c *Cache) Lookup(key model.CacheKey) (*model.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.fast[key]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		return nil, false
	}
	return e, true
}

func (c *Cache) expired(e *model.CacheEntry) bool {
	ttl := c.cfg.CacheFastTTL()
	if e.Stable {
		ttl = c.cfg.CacheDurableTTL()
	}
	return time.Since(e.LastUsedAt) > ttl
}

// RecordHit increments the hit counter and refreshes LastUsedAt, used when
// a cached selector still passes the gate (spec §4.4's "hit" path).
func (c *Cache) RecordHit(key model.CacheKey) error {
	timer := logging.StartTimer(logging.CategoryCache, "RecordHit")
	defer timer.Stop()

	c.mu.Lock()
	e, ok := c.fast[key]
	if ok {
		e.Hits++
		e.LastUsedAt = time.Now()
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := c.db.Exec(`UPDATE selector_cache SET hits = hits + 1, last_used_at = ? WHERE key = ?`, time.Now(), string(key))
	if err != nil {
		return fmt.Errorf("record hit: %w", err)
	}
	return nil
}

// RecordMiss increments the miss counter without refreshing LastUsedAt,
// marking a cached selector that failed the gate and triggered healing or
// rediscovery (spec §4.4's "miss" path).
func (c *Cache) RecordMiss(key model.CacheKey) error {
	c.mu.Lock()
	e, ok := c.fast[key]
	if ok {
		e.Misses++
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := c.db.Exec(`UPDATE selector_cache SET misses = misses + 1 WHERE key = ?`, string(key))
	if err != nil {
		return fmt.Errorf("record miss: %w", err)
	}
	return nil
}

// Put writes (or overwrites) a cache entry in both layers, following
// write-through semantics: discovery/healing results are durable the moment
// they're accepted (spec §4.4). A raw id selector ("#...") is never written
// to the durable layer unless AllowIDCache is set (spec §6 ALLOW_ID_CACHE):
// ids are often build artifacts (CSS-module hashes, generated form field
// ids) that churn across deploys, so persisting them durably risks serving a
// stale selector across a release the fast layer alone would have expired
// naturally. The fast layer still gets the write either way, so the entry is
// still useful within this run.
func (c *Cache) Put(key model.CacheKey, cand model.Candidate, contextHash string) error {
	timer := logging.StartTimer(logging.CategoryCache, "Put")
	defer timer.Stop()

	now := time.Now()
	entry := &model.CacheEntry{
		Key: key, Selector: cand.Selector, Strategy: cand.Strategy, Stable: cand.Stable,
		Confidence: cand.Confidence, CreatedAt: now, LastUsedAt: now, ContextHash: contextHash,
	}

	c.mu.Lock()
	c.fast[key] = entry
	c.mu.Unlock()

	if strings.HasPrefix(cand.Selector, "#") && !c.cfg.AllowIDCache {
		logging.Get(logging.CategoryCache).Info("skipping durable write for id selector %s (allow_id_cache=false)", cand.Selector)
		return nil
	}

	_, err := c.db.Exec(`INSERT INTO selector_cache (key, selector, strategy, stable, confidence, hits, misses, created_at, last_used_at, context_hash)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET selector=excluded.selector, strategy=excluded.strategy, stable=excluded.stable,
			confidence=excluded.confidence, last_used_at=excluded.last_used_at, context_hash=excluded.context_hash`,
		string(key), entry.Selector, string(entry.Strategy), boolToInt(entry.Stable), entry.Confidence, now, now, contextHash)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Invalidate removes a cache entry from both layers. Its only caller is the
// `cache invalidate` CLI command; no engine component invalidates entries
// during a run.
func (c *Cache) Invalidate(key model.CacheKey) error {
	c.mu.Lock()
	delete(c.fast, key)
	c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM selector_cache WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("invalidate cache entry: %w", err)
	}
	return nil
}

// AllowUnstableHit reports whether the configured policy permits serving a
// cache hit whose strategy is not inherently stable (spec §6
// ALLOW_UNSTABLE_HIT).
func (c *Cache) AllowUnstableHit() bool {
	return c.cfg.AllowUnstableHit
}

// List returns every entry for an origin prefix, for the `cache inspect` CLI.
func (c *Cache) List(originPrefix string) []*model.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*model.CacheEntry
	for key, e := range c.fast {
		if originPrefix == "" || hasOriginPrefix(string(key), originPrefix) {
			out = append(out, e)
		}
	}
	return out
}

func hasOriginPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
