// Package cache implements the tiered extraction cache: an in-memory L1
// fronting a durable L2, with content-aware TTL policy and
// selector-performance memory.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/cache/l1"
	"github.com/haasonsaas/nexus/internal/cache/l2"
	"github.com/haasonsaas/nexus/internal/cache/normalize"
)

// TTL policy defaults. Selector-performance records live long because
// they encode learned behavior about a site's DOM; extraction records are
// shorter-lived because page content changes.
const (
	DefaultSelectorTTL  = 90 * 24 * time.Hour
	DefaultPageTTL      = 10 * time.Minute
	DefaultBinaryPageTTL = time.Minute
)

// noCacheContentTypes are bypassed entirely at L1: large or binary payloads
// are not worth holding in the bounded in-memory tier, matching the
// original service's content-type-aware bypass.
var noCacheContentTypes = map[string]bool{
	"image":  true,
	"video":  true,
	"binary": true,
}

// Service is the Tiered Cache Service: L1-then-L2 lookup with dual-write
// promotion on an L2 hit.
type Service struct {
	l1 *l1.Store
	l2 l2.Store
}

// New builds a Service from its two tiers. l2Store may be nil, in which
// case the service degrades to an L1-only cache.
func New(l1Store *l1.Store, l2Store l2.Store) *Service {
	return &Service{l1: l1Store, l2: l2Store}
}

// GetPage looks up an extraction record by cache key, checking L1 first
// and falling through to L2. An L2 hit is promoted into L1 (dual-write).
func (s *Service) GetPage(ctx context.Context, key normalize.Key, contentType string) ([]byte, bool, error) {
	hashKey := key.Hash()

	if !bypassL1(contentType) {
		if entry, ok := s.l1.Get(ctx, hashKey); ok {
			return entry.Value, true, nil
		}
	}

	if s.l2 == nil {
		return nil, false, nil
	}

	rec, found, err := s.l2.GetPage(ctx, hashKey)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if !bypassL1(contentType) {
		s.l1.Set(ctx, hashKey, rec.Payload, pageTTL(contentType))
	}
	return rec.Payload, true, nil
}

// PutPage stores an extraction record into both tiers (L1 subject to the
// bypass rule, L2 always, since L2 is the durable source of truth).
func (s *Service) PutPage(ctx context.Context, key normalize.Key, contentType string, payload []byte) error {
	hashKey := key.Hash()
	ttl := pageTTL(contentType)

	if !bypassL1(contentType) {
		s.l1.Set(ctx, hashKey, payload, ttl)
	}

	if s.l2 == nil {
		return nil
	}
	return s.l2.PutPage(ctx, l2.PageRecord{
		CacheKey:  hashKey,
		Payload:   payload,
		StoredAt:  time.Now(),
		TTL:       ttl,
		SizeBytes: len(payload),
	})
}

// RecordSelectorOutcome updates the long-lived selector-performance record
// for a (domain, element-type, selector) triple after an attempted find,
// folding findTime into the moving average only on success.
func (s *Service) RecordSelectorOutcome(ctx context.Context, domain, elementType, selector string, success bool, findTime time.Duration) error {
	if s.l2 == nil {
		return nil
	}
	recs, err := s.l2.GetSelector(ctx, domain, elementType)
	if err != nil {
		return err
	}
	var rec l2.SelectorRecord
	found := false
	for _, r := range recs {
		if r.Selector == selector {
			rec = r
			found = true
			break
		}
	}
	if !found {
		rec = l2.SelectorRecord{Domain: domain, ElementType: elementType, Selector: selector}
	}

	rec.LastUsed = time.Now()
	if success {
		rec.SuccessCount++
		l2.UpdateMovingAverage(&rec, findTime)
	} else {
		rec.FailureCount++
	}

	return s.l2.PutSelector(ctx, rec)
}

// BestSelectors returns known selectors for a (domain, element-type) pair,
// most reliable first (ordered by success rate, then by recency).
func (s *Service) BestSelectors(ctx context.Context, domain, elementType string) ([]l2.SelectorRecord, error) {
	if s.l2 == nil {
		return nil, nil
	}
	recs, err := s.l2.GetSelector(ctx, domain, elementType)
	if err != nil {
		return nil, err
	}
	sortBySuccessRate(recs)
	return recs, nil
}

// Stats returns combined occupancy statistics across both tiers.
type Stats struct {
	L1 l1.Stats
	L2 l2.Stats
}

// Stats reports the combined L1/L2 occupancy and hit-rate picture.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	out := Stats{L1: s.l1.Stats()}
	if s.l2 != nil {
		l2Stats, err := s.l2.Stats(ctx)
		if err != nil {
			return out, err
		}
		out.L2 = l2Stats
	}
	return out, nil
}

// PruneExpired removes expired durable entries. L1 entries self-expire on
// access; this only needs to run against L2.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	if s.l2 == nil {
		return 0, nil
	}
	return s.l2.DeleteExpired(ctx)
}

func bypassL1(contentType string) bool {
	return noCacheContentTypes[strings.ToLower(contentType)]
}

func pageTTL(contentType string) time.Duration {
	if bypassL1(contentType) {
		return DefaultBinaryPageTTL
	}
	return DefaultPageTTL
}

func sortBySuccessRate(recs []l2.SelectorRecord) {
	less := func(i, j int) bool {
		ri, rj := recs[i], recs[j]
		rateI := successRate(ri)
		rateJ := successRate(rj)
		if rateI != rateJ {
			return rateI > rateJ
		}
		return ri.LastUsed.After(rj.LastUsed)
	}
	// simple insertion sort; selector lists are small (single-digit to
	// low-hundreds per domain/element-type pair)
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

func successRate(r l2.SelectorRecord) float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}
