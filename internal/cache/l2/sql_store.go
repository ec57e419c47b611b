package l2

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// SQLConfig configures the Postgres-compatible connection pool backing
// SQLStore.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns sensible pool defaults.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore is an alternate L2 implementation for deployments that point
// the durable store at a Postgres-compatible DSN instead of the DuckDB
// HTTP service.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStoreFromDSN opens a connection pool and verifies it's reachable.
func NewSQLStoreFromDSN(dsn string, cfg SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache_pages (
			cache_key TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL,
			ttl_seconds BIGINT NOT NULL,
			size_bytes INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create cache_pages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache_selectors (
			domain TEXT NOT NULL,
			element_type TEXT NOT NULL,
			selector TEXT NOT NULL,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMPTZ NOT NULL,
			avg_find_time_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (domain, element_type, selector)
		)`)
	if err != nil {
		return fmt.Errorf("create cache_selectors: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutPage upserts an extraction record.
func (s *SQLStore) PutPage(ctx context.Context, rec PageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_pages (cache_key, payload, stored_at, ttl_seconds, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			stored_at = EXCLUDED.stored_at,
			ttl_seconds = EXCLUDED.ttl_seconds,
			size_bytes = EXCLUDED.size_bytes
	`, rec.CacheKey, rec.Payload, rec.StoredAt, int64(rec.TTL/time.Second), rec.SizeBytes)
	return err
}

// GetPage fetches an extraction record by cache key.
func (s *SQLStore) GetPage(ctx context.Context, cacheKey string) (PageRecord, bool, error) {
	var rec PageRecord
	var ttlSeconds int64
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, payload, stored_at, ttl_seconds, size_bytes
		FROM cache_pages WHERE cache_key = $1
	`, cacheKey)
	err := row.Scan(&rec.CacheKey, &rec.Payload, &rec.StoredAt, &ttlSeconds, &rec.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return PageRecord{}, false, nil
	}
	if err != nil {
		return PageRecord{}, false, err
	}
	rec.TTL = time.Duration(ttlSeconds) * time.Second
	return rec, true, nil
}

// PutSelector upserts a selector-performance record.
func (s *SQLStore) PutSelector(ctx context.Context, rec SelectorRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_selectors (domain, element_type, selector, success_count, failure_count, last_used, avg_find_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, element_type, selector) DO UPDATE SET
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			last_used = EXCLUDED.last_used,
			avg_find_time_ms = EXCLUDED.avg_find_time_ms
	`, rec.Domain, rec.ElementType, rec.Selector, rec.SuccessCount, rec.FailureCount, rec.LastUsed, rec.AvgFindTime.Milliseconds())
	return err
}

// GetSelector fetches selector-performance records for a (domain, element-type) pair.
func (s *SQLStore) GetSelector(ctx context.Context, domain, elementType string) ([]SelectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, element_type, selector, success_count, failure_count, last_used, avg_find_time_ms
		FROM cache_selectors WHERE domain = $1 AND element_type = $2
	`, domain, elementType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SelectorRecord
	for rows.Next() {
		var rec SelectorRecord
		var avgMS int64
		if err := rows.Scan(&rec.Domain, &rec.ElementType, &rec.Selector, &rec.SuccessCount, &rec.FailureCount, &rec.LastUsed, &avgMS); err != nil {
			return nil, err
		}
		rec.AvgFindTime = time.Duration(avgMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats reports table occupancy.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM cache_pages`).Scan(&stats.PageCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM cache_selectors`).Scan(&stats.SelectorCount); err != nil {
		return Stats{}, err
	}
	now := time.Now()
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM cache_pages WHERE stored_at + (ttl_seconds || ' seconds')::interval < $1
	`, now).Scan(&stats.ExpiredCount); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// DeleteExpired removes page records whose TTL has elapsed.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_pages WHERE stored_at + (ttl_seconds || ' seconds')::interval < now()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
