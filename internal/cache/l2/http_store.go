package l2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore implements Store as a thin request/response client against the
// durable page+selector service addressed by DUCKDB_URL. This is the
// primary L2 implementation: the service on the other end owns the actual
// durability (DuckDB-backed), and this client only knows the wire shape.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore builds an HTTP-backed L2 client against baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body any, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("l2 request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("l2 store returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode l2 response: %w", err)
		}
	}
	return true, nil
}

// PutPage stores an extraction record via POST page.
func (s *HTTPStore) PutPage(ctx context.Context, rec PageRecord) error {
	_, err := s.do(ctx, http.MethodPost, "/page", rec, nil)
	return err
}

// GetPage retrieves an extraction record via GET page/{cache_key}.
func (s *HTTPStore) GetPage(ctx context.Context, cacheKey string) (PageRecord, bool, error) {
	var rec PageRecord
	found, err := s.do(ctx, http.MethodGet, "/page/"+url.PathEscape(cacheKey), nil, &rec)
	return rec, found, err
}

// PutSelector stores a selector-performance record via POST element.
func (s *HTTPStore) PutSelector(ctx context.Context, rec SelectorRecord) error {
	_, err := s.do(ctx, http.MethodPost, "/element", rec, nil)
	return err
}

// GetSelector retrieves selector-performance records via
// GET element/{domain}/{element_type}.
func (s *HTTPStore) GetSelector(ctx context.Context, domain, elementType string) ([]SelectorRecord, error) {
	var recs []SelectorRecord
	path := fmt.Sprintf("/element/%s/%s", url.PathEscape(domain), url.PathEscape(elementType))
	_, err := s.do(ctx, http.MethodGet, path, nil, &recs)
	return recs, err
}

// Stats retrieves store occupancy statistics via GET stats.
func (s *HTTPStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	_, err := s.do(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}

// DeleteExpired prunes expired entries via DELETE expired.
func (s *HTTPStore) DeleteExpired(ctx context.Context) (int64, error) {
	var result struct {
		Deleted int64 `json:"deleted"`
	}
	_, err := s.do(ctx, http.MethodDelete, "/expired", nil, &result)
	return result.Deleted, err
}
