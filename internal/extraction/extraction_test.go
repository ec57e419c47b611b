package extraction

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/browserkernel"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/cache/l1"
)

var kernelCheck struct {
	once   sync.Once
	kernel *browserkernel.Kernel
	err    error
}

func requireKernel(t *testing.T) *browserkernel.Kernel {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping extraction pipeline integration tests in short mode")
	}

	kernelCheck.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		kernel, err := browserkernel.NewKernel(ctx, browserkernel.Config{
			Headless:     true,
			EphemeralDir: filepath.Join(os.TempDir(), "nexus-extraction-test"),
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		kernelCheck.kernel = kernel
		kernelCheck.err = err
	})

	if kernelCheck.err != nil {
		t.Skipf("browser kernel not available: %v", kernelCheck.err)
	}
	return kernelCheck.kernel
}

func TestMain(m *testing.M) {
	code := m.Run()
	if kernelCheck.kernel != nil {
		kernelCheck.kernel.Close() //nolint:errcheck
	}
	os.Exit(code)
}

func navigateTo(t *testing.T, k *browserkernel.Kernel, html string) *browserkernel.Tab {
	t.Helper()
	tab, err := k.Tab0(context.Background())
	if err != nil {
		t.Fatalf("Tab0() error = %v", err)
	}
	if _, err := tab.Page().Goto("data:text/html," + url.PathEscape(html)); err != nil {
		t.Fatalf("Goto() error = %v", err)
	}
	return tab
}

func TestPipeline_Universal_FallsBackToParagraphs(t *testing.T) {
	k := requireKernel(t)
	html := `<html><body>
		<p>This is the first paragraph of the article and it contains enough words to pass the minimum length check comfortably.</p>
		<p>This is the second paragraph, also long enough, continuing the discussion of the topic at hand in more detail.</p>
	</body></html>`
	tab := navigateTo(t, k, html)

	p := New(nil)
	rec, err := p.Universal(context.Background(), tab)
	if err != nil {
		t.Fatalf("Universal() error = %v", err)
	}
	if rec.MainText == "" {
		t.Fatal("expected non-empty main text")
	}
	if !strings.Contains(rec.MainText, "first paragraph") {
		t.Errorf("MainText = %q", rec.MainText)
	}
}

func TestPipeline_Selector_ResolvesRelativeHref(t *testing.T) {
	k := requireKernel(t)
	html := `<html><body><a id="l" href="/about">About</a></body></html>`
	tab := navigateTo(t, k, html)

	p := New(nil)
	matches, err := p.Selector(context.Background(), tab, "example.com", "#l", false)
	if err != nil {
		t.Fatalf("Selector() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Text != "About" {
		t.Errorf("Text = %q", matches[0].Text)
	}
}

func TestPipeline_Selector_RecordsOutcome(t *testing.T) {
	k := requireKernel(t)
	html := `<html><body><button id="btn">Go</button></body></html>`
	tab := navigateTo(t, k, html)

	svc := cache.New(l1.New(l1.Config{}), nil)
	p := New(svc)

	domain := "example.com"
	if _, err := p.Selector(context.Background(), tab, domain, "#btn", false); err != nil {
		t.Fatalf("Selector() error = %v", err)
	}
	if _, err := p.Selector(context.Background(), tab, domain, "#missing", false); err == nil {
		t.Fatal("expected an error for a selector with no match")
	}

	recs, err := svc.BestSelectors(context.Background(), domain, "content")
	if err != nil {
		t.Fatalf("BestSelectors() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recorded selectors, got %d", len(recs))
	}
}

func TestPipeline_Parallel_SplitsCachedAndFetched(t *testing.T) {
	k := requireKernel(t)
	html := `<html><body><h1 id="h">Heading</h1><p id="p">Paragraph text here.</p></body></html>`
	tab := navigateTo(t, k, html)

	svc := cache.New(l1.New(l1.Config{}), nil)
	p := New(svc)

	domain := "example.com"
	result, err := p.Parallel(context.Background(), tab, domain, []string{"#h", "#p"})
	if err != nil {
		t.Fatalf("Parallel() error = %v", err)
	}
	if result.FetchedCount != 2 || result.CachedCount != 0 {
		t.Errorf("first pass: fetched=%d cached=%d", result.FetchedCount, result.CachedCount)
	}

	second, err := p.Parallel(context.Background(), tab, domain, []string{"#h", "#p"})
	if err != nil {
		t.Fatalf("Parallel() second call error = %v", err)
	}
	if second.CachedCount != 2 || second.FetchedCount != 0 {
		t.Errorf("second pass: fetched=%d cached=%d", second.FetchedCount, second.CachedCount)
	}
}

func TestLooksLikeContent(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"The quick brown fox jumps over the lazy dog and runs to the river.", true},
		{".content { color: red; background: blue; margin: 0; font-size: 12px; }", false},
		{"function() { var x = document.title; window.location.href = x; }", false},
		{"x", false},
	}
	for _, c := range cases {
		if got := looksLikeContent(c.text); got != c.want {
			t.Errorf("looksLikeContent(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestResolveHref(t *testing.T) {
	base, _ := url.Parse("https://example.com/articles/page")
	cases := []struct {
		href string
		want string
	}{
		{"/about", "https://example.com/about"},
		{"https://other.com/x", "https://other.com/x"},
		{"", ""},
		{"mailto:a@b.com", "mailto:a@b.com"},
	}
	for _, c := range cases {
		if got := resolveHref(base, c.href); got != c.want {
			t.Errorf("resolveHref(%q) = %q, want %q", c.href, got, c.want)
		}
	}
}

func TestFirstWords_ShortTextUnchanged(t *testing.T) {
	text := "a short sentence"
	if got := firstWords(text, 200); got != text {
		t.Errorf("firstWords() = %q", got)
	}
}

func TestFirstWords_TruncatesAtSentenceBoundary(t *testing.T) {
	words := make([]string, 50)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words[:40], " ") + ". " + strings.Join(words[40:], " ")
	got := firstWords(text, 45)
	if !strings.HasSuffix(got, ".") {
		t.Errorf("expected truncation at sentence boundary, got %q", got)
	}
}

func TestStringify(t *testing.T) {
	if got := stringify("abc"); got != "abc" {
		t.Errorf("stringify(string) = %q", got)
	}
	if got := stringify(19.99); got != "19.99" {
		t.Errorf("stringify(float64) = %q", got)
	}
	if got := stringify(nil); got != "" {
		t.Errorf("stringify(nil) = %q, want empty", got)
	}
}

func TestPriceFromStructuredItem(t *testing.T) {
	withOffers := map[string]interface{}{
		"offers": map[string]interface{}{"price": "9.99", "priceCurrency": "USD"},
	}
	price, currency, ok := priceFromStructuredItem(withOffers)
	if !ok || price != "9.99" || currency != "USD" {
		t.Errorf("priceFromStructuredItem(offers) = %q, %q, %v", price, currency, ok)
	}

	flat := map[string]interface{}{"price": "5", "priceCurrency": "EUR"}
	price, currency, ok = priceFromStructuredItem(flat)
	if !ok || price != "5" || currency != "EUR" {
		t.Errorf("priceFromStructuredItem(flat) = %q, %q, %v", price, currency, ok)
	}

	if _, _, ok := priceFromStructuredItem(map[string]interface{}{}); ok {
		t.Error("expected no price for an empty item")
	}
}

func TestFormat(t *testing.T) {
	rec := Record{
		URL:      "https://example.com/widget",
		Title:    "Widget",
		Price:    "19.99",
		Currency: "USD",
		MainText: "A great widget for all occasions.",
		Links:    []Link{{Text: "Buy now", Href: "https://example.com/buy"}},
	}
	out := Format(rec)
	if !strings.Contains(out, "URL: https://example.com/widget") {
		t.Errorf("Format() missing URL: %q", out)
	}
	if !strings.Contains(out, "Price: 19.99 USD") {
		t.Errorf("Format() missing price: %q", out)
	}
	if !strings.Contains(out, "Buy now: https://example.com/buy") {
		t.Errorf("Format() missing link: %q", out)
	}
}
