package browserkernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Config configures the Browser Session Kernel.
type Config struct {
	Headless          bool
	RemoteURL         string
	ViewportWidth     int
	ViewportHeight    int
	NavTimeout        time.Duration
	HealthProbeTimeout time.Duration
	MaxBackgroundTabs int

	// ProfileDir is the durable directory profile artifacts are copied
	// to/from. EphemeralDir is where the browser's own user-data-dir
	// lives for the life of the process.
	ProfileDir      string
	EphemeralDir    string
	PersistInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ViewportWidth == 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight == 0 {
		c.ViewportHeight = 1080
	}
	if c.NavTimeout == 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.HealthProbeTimeout == 0 {
		c.HealthProbeTimeout = 5 * time.Second
	}
	if c.MaxBackgroundTabs == 0 {
		c.MaxBackgroundTabs = 3
	}
	if c.PersistInterval == 0 {
		c.PersistInterval = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NavigateResult carries the post-navigation state the spec requires: the
// final URL after any redirects, and the page title.
type NavigateResult struct {
	URL   string
	Title string
}

// Kernel is the single, process-wide browser session. One construction
// lock guards (re)creating the browser; one separate first-tab lock guards
// tab-0 acquisition, matching the original's two-lock discipline.
type Kernel struct {
	cfg          Config
	ephemeralDir string

	pw *playwright.Playwright

	constructionMu sync.Mutex
	browserCtx     playwright.BrowserContext

	tab0Mu sync.Mutex
	tab0   *Tab

	pool *tabPool

	persistStop chan struct{}
	persistDone chan struct{}

	closed bool
	mu     sync.Mutex
}

// NewKernel starts Playwright, restores the durable profile into the
// ephemeral directory, launches (or connects to) the browser with a
// persistent context, and acquires tab-0.
func NewKernel(ctx context.Context, cfg Config) (*Kernel, error) {
	cfg.applyDefaults()

	ephemeralDir, err := resolveSecurePath(cfg.EphemeralDir, ".")
	if err != nil {
		return nil, err
	}
	if cfg.ProfileDir != "" {
		if _, err := resolveSecurePath(cfg.ProfileDir, "."); err != nil {
			return nil, err
		}
	}

	killStaleProcess(ctx, ephemeralDir, cfg.Logger)
	if cfg.ProfileDir != "" {
		restoreProfile(cfg.ProfileDir, ephemeralDir, cfg.Logger)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	k := &Kernel{
		cfg:          cfg,
		ephemeralDir: ephemeralDir,
		pw:           pw,
		pool:         newTabPool(cfg.MaxBackgroundTabs),
		persistStop:  make(chan struct{}),
		persistDone:  make(chan struct{}),
	}

	if err := k.launch(ephemeralDir); err != nil {
		pw.Stop() //nolint:errcheck
		return nil, err
	}

	if cfg.ProfileDir != "" {
		go k.persistLoop(ephemeralDir)
	} else {
		close(k.persistDone)
	}

	return k, nil
}

func (k *Kernel) launch(ephemeralDir string) error {
	var browserCtx playwright.BrowserContext
	var err error

	if k.cfg.RemoteURL != "" {
		browser, connErr := k.pw.Chromium.Connect(k.cfg.RemoteURL)
		if connErr != nil {
			return fmt.Errorf("connect to remote browser: %w", connErr)
		}
		browserCtx, err = browser.NewContext(playwright.BrowserNewContextOptions{
			Viewport: &playwright.Size{Width: k.cfg.ViewportWidth, Height: k.cfg.ViewportHeight},
		})
		if err != nil {
			return fmt.Errorf("create remote browser context: %w", err)
		}
	} else {
		browserCtx, err = k.pw.Chromium.LaunchPersistentContext(ephemeralDir,
			playwright.BrowserTypeLaunchPersistentContextOptions{
				Headless: playwright.Bool(k.cfg.Headless),
				Viewport: &playwright.Size{Width: k.cfg.ViewportWidth, Height: k.cfg.ViewportHeight},
				AcceptDownloads:   playwright.Bool(true),
				IgnoreHttpsErrors: playwright.Bool(true),
				Args: []string{
					"--no-sandbox",
					"--disable-setuid-sandbox",
					"--disable-dev-shm-usage",
					"--password-store=basic",
				},
			})
		if err != nil {
			return fmt.Errorf("launch persistent browser: %w", err)
		}
	}

	pages := browserCtx.Pages()
	var page playwright.Page
	if len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browserCtx.NewPage()
		if err != nil {
			browserCtx.Close() //nolint:errcheck
			return fmt.Errorf("create tab-0: %w", err)
		}
	}
	page.SetDefaultTimeout(float64(k.cfg.NavTimeout.Milliseconds()))

	k.browserCtx = browserCtx
	k.tab0 = &Tab{ID: "tab-0", Index: 0, page: page, closeable: false}
	return nil
}

// ensureReady runs the health probe against tab-0 and, on failure, tears
// down and relaunches the browser under the construction lock.
func (k *Kernel) ensureReady(ephemeralDir string) error {
	k.constructionMu.Lock()
	defer k.constructionMu.Unlock()

	if k.tab0 != nil && k.tab0.isAlive() {
		return nil
	}

	k.cfg.Logger.Warn("browser health probe failed, recreating")
	if k.browserCtx != nil {
		k.browserCtx.Close() //nolint:errcheck
	}
	if err := k.launch(ephemeralDir); err != nil {
		return fmt.Errorf("recreate browser: %w", err)
	}
	return ErrBrowserRecovered
}

// Tab0 returns the persistent tab, recreating the browser first if its
// health probe fails.
func (k *Kernel) Tab0(ctx context.Context) (*Tab, error) {
	k.tab0Mu.Lock()
	defer k.tab0Mu.Unlock()

	if k.isClosed() {
		return nil, ErrKernelClosed
	}
	if err := k.ensureReady(k.ephemeralDir); err != nil && err != ErrBrowserRecovered {
		return nil, err
	}
	return k.tab0, nil
}

// Navigate drives tab-0 (or, if tabID is non-empty, a background tab) to
// url. If waitFor is set, it additionally waits up to waitTimeout for that
// selector to appear — a miss is logged, not failed.
func (k *Kernel) Navigate(ctx context.Context, tabID, url, waitFor string, waitTimeout time.Duration) (*NavigateResult, error) {
	tab, err := k.resolveTab(ctx, tabID)
	if err != nil {
		return nil, err
	}

	if _, err := tab.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(k.cfg.NavTimeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}

	if waitFor != "" {
		timeout := waitTimeout
		if timeout == 0 {
			timeout = k.cfg.NavTimeout
		}
		if _, err := tab.page.WaitForSelector(waitFor, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
		}); err != nil {
			k.cfg.Logger.Info("navigate: wait_for selector not found", "selector", waitFor, "error", err)
		}
	}

	title, _ := tab.page.Title()
	return &NavigateResult{URL: tab.page.URL(), Title: title}, nil
}

// resolveTab returns tab-0 when tabID is empty, else the matching
// background tab.
func (k *Kernel) resolveTab(ctx context.Context, tabID string) (*Tab, error) {
	if tabID == "" {
		return k.Tab0(ctx)
	}
	tab, ok := k.pool.get(tabID)
	if !ok {
		return nil, ErrTabNotFound
	}
	return tab, nil
}

// Tab returns tab-0 when tabID is empty, else the matching background tab.
// Exported for tool implementations that need direct page access by id.
func (k *Kernel) Tab(ctx context.Context, tabID string) (*Tab, error) {
	return k.resolveTab(ctx, tabID)
}

// OpenBackgroundTab creates (or reuses) a background tab without touching
// tab-0's focus. Rejects once the ceiling of concurrent background tabs
// is reached.
func (k *Kernel) OpenBackgroundTab(ctx context.Context) (*Tab, error) {
	if k.isClosed() {
		return nil, ErrKernelClosed
	}
	if _, err := k.Tab0(ctx); err != nil {
		return nil, err
	}
	return k.pool.acquire(ctx, func(ctx context.Context) (playwright.Page, error) {
		return k.browserCtx.NewPage()
	})
}

// CloseTab closes a background tab. Closing tab-0 is always rejected.
func (k *Kernel) CloseTab(tabID string) error {
	if tabID == "" || tabID == "tab-0" {
		return ErrTabZeroProtected
	}
	tab, err := k.pool.close(tabID)
	if err != nil {
		return err
	}
	return tab.page.Close()
}

// ReleaseTab returns a background tab to the idle pool instead of closing
// it, per the reuse-not-destroy discipline.
func (k *Kernel) ReleaseTab(tabID string) {
	if tabID == "" || tabID == "tab-0" {
		return
	}
	k.pool.release(tabID)
}

// ListTabs returns every known tab with tab-0 always first and marked
// non-closeable.
func (k *Kernel) ListTabs(ctx context.Context) ([]TabInfo, error) {
	tab0, err := k.Tab0(ctx)
	if err != nil {
		return nil, err
	}
	infos := []TabInfo{tabInfo(tab0)}
	for _, tab := range k.pool.all() {
		infos = append(infos, tabInfo(tab))
	}
	return infos, nil
}

func (k *Kernel) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *Kernel) persistLoop(ephemeralDir string) {
	ticker := time.NewTicker(k.cfg.PersistInterval)
	defer ticker.Stop()
	defer close(k.persistDone)

	for {
		select {
		case <-ticker.C:
			persistProfile(ephemeralDir, k.cfg.ProfileDir, k.cfg.Logger)
		case <-k.persistStop:
			persistProfile(ephemeralDir, k.cfg.ProfileDir, k.cfg.Logger)
			return
		}
	}
}

// Close tears down the browser, persists the profile one final time, and
// stops the Playwright runtime.
func (k *Kernel) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	if k.cfg.ProfileDir != "" {
		close(k.persistStop)
		<-k.persistDone
	}

	for _, tab := range k.pool.all() {
		tab.page.Close() //nolint:errcheck
	}

	var closeErr error
	if k.browserCtx != nil {
		closeErr = k.browserCtx.Close()
	}
	if err := k.pw.Stop(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}
