package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// cachedBars is the msgpack-serialized row payload stored per cache key.
type cachedBars struct {
	Bars []domain.Bar
}

// CachingProvider wraps a Provider with an on-disk sqlite memoisation
// layer, enabled only when ENABLE_MARKET_DATA_CACHE is true (spec.md §6).
// Grounded on internal/database/db.go's WAL-mode sqlite wrapper.
type CachingProvider struct {
	inner Provider
	db    *sql.DB
	log   zerolog.Logger
}

// NewCachingProvider opens (creating if absent) a sqlite cache database at
// path and wraps inner with it.
func NewCachingProvider(inner Provider, path string, log zerolog.Logger) (*CachingProvider, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("marketdata: open cache db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bar_cache (
		cache_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("marketdata: migrate cache db: %w", err)
	}
	return &CachingProvider{inner: inner, db: db, log: log.With().Str("component", "marketdata_cache").Logger()}, nil
}

// GetDailyBars returns the cached series for today if present, else
// fetches from inner and stores the result keyed by CacheKey.
func (c *CachingProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	key := CacheKey(symbol, assetClass, lookbackDays, time.Now())

	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM bar_cache WHERE cache_key = ?`, key).Scan(&payload)
	if err == nil {
		var cached cachedBars
		if unmarshalErr := msgpack.Unmarshal(payload, &cached); unmarshalErr == nil {
			return cached.Bars, nil
		}
		c.log.Warn().Str("cache_key", key).Msg("corrupt cache entry, refetching")
	} else if err != sql.ErrNoRows {
		c.log.Warn().Err(err).Msg("cache read failed, falling back to provider")
	}

	bars, err := c.inner.GetDailyBars(ctx, symbol, assetClass, lookbackDays)
	if err != nil {
		return nil, err
	}

	payload, marshalErr := msgpack.Marshal(cachedBars{Bars: bars})
	if marshalErr == nil {
		if _, execErr := c.db.ExecContext(ctx,
			`INSERT INTO bar_cache (cache_key, payload, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(cache_key) DO UPDATE SET payload=excluded.payload, created_at=excluded.created_at`,
			key, payload, time.Now().UTC()); execErr != nil {
			c.log.Warn().Err(execErr).Msg("cache write failed")
		}
	}

	return bars, nil
}

var _ Provider = (*CachingProvider)(nil)
