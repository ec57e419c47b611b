package browserkernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Tab wraps a single page. Tab-0 is the persistent, non-closeable tab;
// tabs with Index > 0 are background tabs drawn from the pool.
type Tab struct {
	ID        string
	Index     int
	page      playwright.Page
	closeable bool
}

// TabInfo is the caller-facing view of a Tab, returned by ListTabs.
type TabInfo struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Closeable  bool   `json:"closeable"`
}

// tabPool tracks the bounded set of background tabs: those currently
// checked out (active) and those released and reset to about:blank,
// waiting to be reused. Tabs are never destroyed on release, only on
// Close (explicit) or kernel teardown.
type tabPool struct {
	mu       sync.Mutex
	ceiling  int
	nextID   int
	active   map[string]*Tab
	idle     []*Tab
}

func newTabPool(ceiling int) *tabPool {
	if ceiling <= 0 {
		ceiling = 3
	}
	return &tabPool{
		ceiling: ceiling,
		active:  make(map[string]*Tab),
	}
}

// acquire returns an idle tab reset to about:blank, or creates a new one
// if the pool has not yet reached its ceiling. newPage is called only
// when a fresh tab must be created.
func (p *tabPool) acquire(ctx context.Context, newPage func(context.Context) (playwright.Page, error)) (*Tab, error) {
	p.mu.Lock()
	if len(p.idle) > 0 {
		tab := p.idle[0]
		p.idle = p.idle[1:]
		p.active[tab.ID] = tab
		p.mu.Unlock()

		if _, err := tab.page.Goto("about:blank"); err != nil {
			return nil, fmt.Errorf("reset reused tab: %w", err)
		}
		return tab, nil
	}

	if len(p.active)+len(p.idle) >= p.ceiling {
		p.mu.Unlock()
		return nil, ErrTabCeilingReached
	}
	p.nextID++
	id := fmt.Sprintf("tab-%d", p.nextID)
	index := p.nextID
	p.mu.Unlock()

	page, err := newPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("create background tab: %w", err)
	}

	tab := &Tab{ID: id, Index: index, page: page, closeable: true}
	p.mu.Lock()
	p.active[id] = tab
	p.mu.Unlock()
	return tab, nil
}

// release returns a tab to the idle pool for reuse rather than closing it.
func (p *tabPool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tab, ok := p.active[id]
	if !ok {
		return
	}
	delete(p.active, id)
	p.idle = append(p.idle, tab)
}

// close permanently destroys a tab, removing it from both active and idle
// tracking. Returns ErrTabNotFound if id does not match any tracked tab.
func (p *tabPool) close(id string) (*Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tab, ok := p.active[id]; ok {
		delete(p.active, id)
		return tab, nil
	}
	for i, tab := range p.idle {
		if tab.ID == id {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return tab, nil
		}
	}
	return nil, ErrTabNotFound
}

// all returns every tracked background tab, active and idle, for listing
// and for teardown.
func (p *tabPool) all() []*Tab {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Tab, 0, len(p.active)+len(p.idle))
	for _, tab := range p.active {
		out = append(out, tab)
	}
	out = append(out, p.idle...)
	return out
}

func (p *tabPool) get(id string) (*Tab, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tab, ok := p.active[id]; ok {
		return tab, true
	}
	for _, tab := range p.idle {
		if tab.ID == id {
			return tab, true
		}
	}
	return nil, false
}

// isAlive runs the tab liveness probe (evaluate a trivial expression),
// mirroring the original's _is_tab_alive check.
func (t *Tab) isAlive() bool {
	_, err := t.page.Evaluate("1")
	return err == nil
}

// Page exposes the underlying Playwright page for tool implementations
// that need direct access (click, fill, screenshot, evaluate).
func (t *Tab) Page() playwright.Page {
	return t.page
}

func tabInfo(t *Tab) TabInfo {
	info := TabInfo{ID: t.ID, Index: t.Index, Closeable: t.closeable}
	if url := t.page.URL(); url != "" {
		info.URL = url
	}
	if title, err := t.page.Title(); err == nil {
		info.Title = title
	}
	return info
}
