package l2

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &SQLStore{db: db}, mock
}

func TestSQLStore_PutPage(t *testing.T) {
	store, mock := newMockStore(t)
	rec := PageRecord{CacheKey: "k1", Payload: []byte("body"), StoredAt: time.Now(), TTL: time.Minute, SizeBytes: 4}

	mock.ExpectExec("INSERT INTO cache_pages").
		WithArgs(rec.CacheKey, rec.Payload, rec.StoredAt, int64(60), rec.SizeBytes).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.PutPage(context.Background(), rec); err != nil {
		t.Fatalf("PutPage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_GetPage_Found(t *testing.T) {
	store, mock := newMockStore(t)
	storedAt := time.Now()

	rows := sqlmock.NewRows([]string{"cache_key", "payload", "stored_at", "ttl_seconds", "size_bytes"}).
		AddRow("k1", []byte("body"), storedAt, int64(60), 4)
	mock.ExpectQuery("SELECT cache_key, payload, stored_at, ttl_seconds, size_bytes").
		WithArgs("k1").
		WillReturnRows(rows)

	rec, found, err := store.GetPage(context.Background(), "k1")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if !found {
		t.Fatal("expected found = true")
	}
	if rec.TTL != time.Minute {
		t.Errorf("TTL = %v, want 1m", rec.TTL)
	}
}

func TestSQLStore_GetPage_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT cache_key, payload, stored_at, ttl_seconds, size_bytes").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"cache_key", "payload", "stored_at", "ttl_seconds", "size_bytes"}))

	_, found, err := store.GetPage(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if found {
		t.Error("expected found = false")
	}
}

func TestSQLStore_PutSelector(t *testing.T) {
	store, mock := newMockStore(t)
	rec := SelectorRecord{Domain: "example.com", ElementType: "button", Selector: "#submit", SuccessCount: 1, LastUsed: time.Now(), AvgFindTime: 250 * time.Millisecond}

	mock.ExpectExec("INSERT INTO cache_selectors").
		WithArgs(rec.Domain, rec.ElementType, rec.Selector, rec.SuccessCount, rec.FailureCount, rec.LastUsed, rec.AvgFindTime.Milliseconds()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.PutSelector(context.Background(), rec); err != nil {
		t.Fatalf("PutSelector() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_GetSelector(t *testing.T) {
	store, mock := newMockStore(t)
	lastUsed := time.Now()

	rows := sqlmock.NewRows([]string{"domain", "element_type", "selector", "success_count", "failure_count", "last_used", "avg_find_time_ms"}).
		AddRow("example.com", "button", "#submit", int64(3), int64(1), lastUsed, int64(120))
	mock.ExpectQuery("SELECT domain, element_type, selector, success_count, failure_count, last_used, avg_find_time_ms").
		WithArgs("example.com", "button").
		WillReturnRows(rows)

	recs, err := store.GetSelector(context.Background(), "example.com", "button")
	if err != nil {
		t.Fatalf("GetSelector() error = %v", err)
	}
	if len(recs) != 1 || recs[0].AvgFindTime != 120*time.Millisecond {
		t.Errorf("GetSelector() = %+v", recs)
	}
}

func TestSQLStore_Stats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM cache_pages$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM cache_selectors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM cache_pages WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.PageCount != 5 || stats.SelectorCount != 2 || stats.ExpiredCount != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSQLStore_DeleteExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM cache_pages WHERE").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 7 {
		t.Errorf("deleted = %d, want 7", n)
	}
}

func TestSQLStore_Close_NilSafe(t *testing.T) {
	var store *SQLStore
	if err := store.Close(); err != nil {
		t.Errorf("Close() on nil store error = %v", err)
	}
}

func TestDefaultSQLConfig(t *testing.T) {
	cfg := DefaultSQLConfig()
	if cfg.MaxOpenConns <= 0 || cfg.MaxIdleConns <= 0 || cfg.ConnMaxLifetime <= 0 || cfg.ConnectTimeout <= 0 {
		t.Errorf("expected all positive defaults, got %+v", cfg)
	}
}

func TestNewSQLStoreFromDSN_EmptyDSN(t *testing.T) {
	_, err := NewSQLStoreFromDSN("", DefaultSQLConfig())
	if err == nil {
		t.Error("expected an error for an empty DSN")
	}
}
