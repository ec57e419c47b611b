// Package extraction orchestrates content extraction over a browser tab:
// whole-page extraction with a progressive fallback chain, single/multi
// selector extraction with cache-backed selector-performance tracking, and
// concurrent extraction across a set of selectors.
package extraction

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/browserkernel"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/cache/normalize"
	"github.com/haasonsaas/nexus/internal/tools/websearch"
)

// Record is the result of a whole-page (universal) extraction.
type Record struct {
	URL      string
	Title    string
	MainText string
	Method   string
	Author   string
	Date     string
	Price    string
	Currency string
	Links    []Link
}

// Link is a single href+text pair captured during extraction.
type Link struct {
	Text string
	Href string
}

// Match is one element matched by a single-selector extraction.
type Match struct {
	Text string
	Href string
}

// ParallelResult is the outcome of extracting a set of selectors
// concurrently, distinguishing cache hits from freshly extracted values.
type ParallelResult struct {
	Results      map[string]string
	CachedCount  int
	FetchedCount int
}

const maxConcurrentSelectors = 4

// Pipeline is the Extraction Pipeline: it drives extraction over a Tab and
// round-trips results and selector outcomes through the Tiered Cache Service.
type Pipeline struct {
	cache *cache.Service
}

// New builds a Pipeline. cacheSvc may be nil, in which case extraction
// proceeds without caching or selector-performance tracking.
func New(cacheSvc *cache.Service) *Pipeline {
	return &Pipeline{cache: cacheSvc}
}

// checkChallenge blocks extraction behind an active interactive challenge,
// attempting a bounded solve before giving up.
func (p *Pipeline) checkChallenge(ctx context.Context, tab *browserkernel.Tab) error {
	state, err := browserkernel.DetectChallenge(tab)
	if err != nil || state == browserkernel.ChallengeNone {
		return nil
	}
	if err := browserkernel.SolveChallenge(ctx, tab, 15*time.Second, 2*time.Second); err != nil {
		return fmt.Errorf("active challenge blocks extraction: %w", err)
	}
	return nil
}

// universalSelectors is the progressive fallback chain for whole-page
// extraction, ordered from most to least semantic.
var universalSelectors = []string{
	"main article, main section, [role='main']",
	"#content, #main-content, .content, .main-content",
	"article, .article, .post, .entry",
	"body section:not([class*='nav']):not([class*='menu']):not([class*='sidebar'])",
}

// styleOrScriptIndicators flags text that looks like leaked CSS/JS rather
// than page content.
var styleOrScriptIndicators = []string{
	"var(--", "{", "}", "color:", "background:", "margin:", "padding:",
	".css", "stylesheet", "font-size:", "display:", "font-family:",
	"function(", "document.", "window.",
}

// proseIndicators are common word boundaries that real prose contains;
// their absence is a second signal that a candidate block is not content.
var proseIndicators = []string{" the ", " and ", " of ", " to ", " in ", " a "}

func looksLikeContent(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range styleOrScriptIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}
	for _, indicator := range proseIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Universal extracts the whole page's readable content: the black-box
// main-text extractor first, a progressive selector fallback chain next,
// and paragraph aggregation as a last resort. Structured product/price
// metadata is mined from the page's JSON-LD scripts and merged in.
func (p *Pipeline) Universal(ctx context.Context, tab *browserkernel.Tab) (Record, error) {
	if err := p.checkChallenge(ctx, tab); err != nil {
		return Record{}, err
	}

	pageURL := tab.Page().URL()
	rec := Record{URL: pageURL}

	html, err := tab.Page().Content()
	if err != nil {
		return Record{}, fmt.Errorf("read page content: %w", err)
	}

	extractor := websearch.NewContentExtractor()
	if text := extractor.ExtractFromHTML(html); len(strings.TrimSpace(text)) > 100 {
		rec.MainText = text
		rec.Method = "readability"
	}

	if rec.MainText == "" {
		rec.MainText, rec.Method = p.fallbackSelectors(tab)
	}

	if rec.MainText == "" {
		rec.MainText, rec.Method = p.fallbackParagraphs(tab)
	}

	mineStructuredData(tab, &rec)
	return rec, nil
}

func (p *Pipeline) fallbackSelectors(tab *browserkernel.Tab) (string, string) {
	for _, selector := range universalSelectors {
		locator := tab.Page().Locator(selector)
		count, err := locator.Count()
		if err != nil || count == 0 {
			continue
		}
		text, err := locator.Nth(0).InnerText()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if len(text) <= 100 || !looksLikeContent(text) {
			continue
		}
		return text, "selector: " + selector
	}
	return "", ""
}

func (p *Pipeline) fallbackParagraphs(tab *browserkernel.Tab) (string, string) {
	locator := tab.Page().Locator("p")
	count, err := locator.Count()
	if err != nil || count == 0 {
		return "", ""
	}
	if count > 20 {
		count = 20
	}
	var paragraphs []string
	for i := 0; i < count; i++ {
		text, err := locator.Nth(i).InnerText()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if len(text) > 50 {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return "", ""
	}
	return strings.Join(paragraphs, "\n\n"), "paragraph_aggregation"
}

// structuredDataScript returns every JSON-LD block on the page with a
// Product shape or an embedded price/offer.
const structuredDataScript = `(() => {
	const scripts = document.querySelectorAll('script[type="application/ld+json"]');
	const data = [];
	scripts.forEach(s => {
		try {
			const json = JSON.parse(s.textContent);
			if (json['@type'] === 'Product' || json.price || (json.offers && json.offers.price)) {
				data.push(json);
			}
		} catch (e) {}
	});
	return data;
})()`

func mineStructuredData(tab *browserkernel.Tab, rec *Record) {
	raw, err := tab.Page().Evaluate(structuredDataScript)
	if err != nil {
		return
	}
	items, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if price, currency, ok := priceFromStructuredItem(obj); ok {
			rec.Price = price
			rec.Currency = currency
		}
		if name, ok := obj["name"].(string); ok && rec.Title == "" {
			rec.Title = name
		}
	}
}

func priceFromStructuredItem(obj map[string]interface{}) (price, currency string, ok bool) {
	if offers, isMap := obj["offers"].(map[string]interface{}); isMap {
		if p := stringify(offers["price"]); p != "" {
			return p, stringify(offers["priceCurrency"]), true
		}
	}
	if p := stringify(obj["price"]); p != "" {
		return p, stringify(obj["priceCurrency"]), true
	}
	return "", "", false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

// Selector extracts text and href from every element matching a single CSS
// selector, resolving relative hrefs against the page origin. With
// extractAll false only the first match is returned. Every attempt is
// recorded against the cache's selector-performance ledger.
func (p *Pipeline) Selector(ctx context.Context, tab *browserkernel.Tab, domain, selector string, extractAll bool) ([]Match, error) {
	if err := p.checkChallenge(ctx, tab); err != nil {
		return nil, err
	}

	start := time.Now()
	locator := tab.Page().Locator(selector)
	count, err := locator.Count()
	if err != nil || count == 0 {
		p.recordOutcome(ctx, domain, selector, false, time.Since(start))
		return nil, fmt.Errorf("%w: no element matched %s", browserkernel.ErrElementNotFound, selector)
	}

	limit := 1
	if extractAll {
		limit = count
	}

	base, _ := url.Parse(tab.Page().URL())
	matches := make([]Match, 0, limit)
	for i := 0; i < limit; i++ {
		el := locator.Nth(i)
		text, _ := el.InnerText()
		href, _ := el.GetAttribute("href")
		matches = append(matches, Match{Text: strings.TrimSpace(text), Href: resolveHref(base, href)})
	}

	p.recordOutcome(ctx, domain, selector, true, time.Since(start))
	return matches, nil
}

func resolveHref(base *url.URL, href string) string {
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (p *Pipeline) recordOutcome(ctx context.Context, domain, selector string, success bool, elapsed time.Duration) {
	if p.cache == nil || domain == "" {
		return
	}
	_ = p.cache.RecordSelectorOutcome(ctx, domain, "content", selector, success, elapsed)
}

// Parallel extracts a set of selectors concurrently: each selector's page
// cache entry is checked first, and only misses are extracted fresh,
// bounded by a small worker pool. Fresh results are written back to cache.
func (p *Pipeline) Parallel(ctx context.Context, tab *browserkernel.Tab, domain string, selectors []string) (ParallelResult, error) {
	pageURL := tab.Page().URL()
	result := ParallelResult{Results: make(map[string]string, len(selectors))}

	var misses []string
	for _, selector := range selectors {
		if p.cache == nil {
			misses = append(misses, selector)
			continue
		}
		key, err := normalize.New(pageURL, selector, "")
		if err != nil {
			misses = append(misses, selector)
			continue
		}
		if payload, found, err := p.cache.GetPage(ctx, key, "text"); err == nil && found {
			result.Results[selector] = string(payload)
			result.CachedCount++
			continue
		}
		misses = append(misses, selector)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentSelectors)

	for _, selector := range misses {
		selector := selector
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			matches, err := p.Selector(ctx, tab, domain, selector, false)
			if err != nil || len(matches) == 0 {
				return
			}
			text := matches[0].Text

			mu.Lock()
			result.Results[selector] = text
			result.FetchedCount++
			mu.Unlock()

			if p.cache != nil {
				if key, err := normalize.New(pageURL, selector, ""); err == nil {
					_ = p.cache.PutPage(ctx, key, "text", []byte(text))
				}
			}
		}()
	}
	wg.Wait()

	return result, nil
}

// maxFormattedWords caps the first block of a formatted rendering so a
// single extraction cannot dominate the model's context budget.
const maxFormattedWords = 200

// maxFormattedLinks caps the number of links included in a formatted
// rendering.
const maxFormattedLinks = 10

// Format renders a Record as the compact, model-facing text the Extraction
// Pipeline hands back to the orchestrator: URL, short metadata, the first
// ~200 words of main text, and up to 10 links.
func Format(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", rec.URL)
	if rec.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", rec.Title)
	}
	if rec.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", rec.Author)
	}
	if rec.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", rec.Date)
	}
	if rec.Price != "" {
		price := "Price: " + rec.Price
		if rec.Currency != "" {
			price += " " + rec.Currency
		}
		b.WriteString(price + "\n")
	}

	if rec.MainText != "" {
		b.WriteString("\n")
		b.WriteString(firstWords(rec.MainText, maxFormattedWords))
	}

	if len(rec.Links) > 0 {
		fmt.Fprintf(&b, "\n\nLinks found: %d\n", len(rec.Links))
		limit := len(rec.Links)
		if limit > maxFormattedLinks {
			limit = maxFormattedLinks
		}
		for _, link := range rec.Links[:limit] {
			text := link.Text
			if len(text) > 50 {
				text = text[:50]
			}
			if text != "" && link.Href != "" {
				fmt.Fprintf(&b, "- %s: %s\n", text, link.Href)
			}
		}
	}

	return b.String()
}

// firstWords returns the first limit words of text, extending to the next
// sentence boundary when that keeps at least 70% of the word budget.
func firstWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	partial := strings.Join(words[:limit], " ")

	lastBoundary := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(partial, sep); idx > lastBoundary {
			lastBoundary = idx
		}
	}
	if lastBoundary > 0 && float64(lastBoundary) > float64(len(partial))*0.7 {
		return partial[:lastBoundary+1]
	}
	return partial
}
