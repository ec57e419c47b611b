// Package browser implements the agent.Tool catalog that drives the
// Browser Session Kernel: navigation, element interaction, content
// extraction, Cloudflare handling, and tab lifecycle management.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/browserkernel"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/extraction"
	"github.com/haasonsaas/nexus/internal/tools/websearch"
)

func readString(raw map[string]interface{}, key string) string {
	v, _ := raw[key].(string)
	return v
}

func readFloat(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key].(float64)
	return v, ok
}

func errResult(format string, args ...interface{}) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

func jsonResult(v interface{}) (*agent.ToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func decodeParams(params json.RawMessage) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if len(params) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// NavigateTool implements the navigate contract: load url, optionally wait
// for a selector (a miss is logged, not failed), return the final URL and
// title.
type NavigateTool struct {
	kernel *browserkernel.Kernel
}

func NewNavigateTool(kernel *browserkernel.Kernel) *NavigateTool {
	return &NavigateTool{kernel: kernel}
}

func (t *NavigateTool) Name() string { return "navigate" }

func (t *NavigateTool) Description() string {
	return "Navigate the browser (or a background tab) to a URL, optionally waiting for a CSS selector to appear."
}

func (t *NavigateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to navigate to"},
			"wait_for": {"type": "string", "description": "Optional CSS selector to wait for after load"},
			"wait_timeout_ms": {"type": "integer", "description": "Timeout in milliseconds for wait_for"},
			"tab_id": {"type": "string", "description": "Background tab id; omit for the primary tab"}
		},
		"required": ["url"]
	}`)
}

func (t *NavigateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	url := readString(raw, "url")
	if url == "" {
		return errResult("missing required parameter: url"), nil
	}

	var waitTimeout time.Duration
	if ms, ok := readFloat(raw, "wait_timeout_ms"); ok {
		waitTimeout = time.Duration(ms) * time.Millisecond
	}

	result, err := t.kernel.Navigate(ctx, readString(raw, "tab_id"), url, readString(raw, "wait_for"), waitTimeout)
	if err != nil {
		return errResult("navigate failed: %v", err), nil
	}
	return jsonResult(result)
}

// GetCurrentURLTool reports the active tab's URL and title without
// navigating.
type GetCurrentURLTool struct {
	kernel *browserkernel.Kernel
}

func NewGetCurrentURLTool(kernel *browserkernel.Kernel) *GetCurrentURLTool {
	return &GetCurrentURLTool{kernel: kernel}
}

func (t *GetCurrentURLTool) Name() string        { return "get_current_url" }
func (t *GetCurrentURLTool) Description() string { return "Return the current URL and title of the primary tab or a named background tab." }

func (t *GetCurrentURLTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tab_id": {"type": "string", "description": "Background tab id; omit for the primary tab"}
		}
	}`)
}

func (t *GetCurrentURLTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	tab, err := t.kernel.Tab(ctx, readString(raw, "tab_id"))
	if err != nil {
		return errResult("%v", err), nil
	}
	title, _ := tab.Page().Title()
	return jsonResult(map[string]string{"url": tab.Page().URL(), "title": title})
}

// ClickElementTool clicks the first element matching a CSS selector.
type ClickElementTool struct {
	kernel *browserkernel.Kernel
}

func NewClickElementTool(kernel *browserkernel.Kernel) *ClickElementTool {
	return &ClickElementTool{kernel: kernel}
}

func (t *ClickElementTool) Name() string        { return "click_element" }
func (t *ClickElementTool) Description() string { return "Click the first element matching a CSS selector on the primary tab." }

func (t *ClickElementTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector of the element to click"},
			"timeout_ms": {"type": "integer", "description": "Timeout in milliseconds"}
		},
		"required": ["selector"]
	}`)
}

func (t *ClickElementTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	selector := readString(raw, "selector")
	if selector == "" {
		return errResult("missing required parameter: selector"), nil
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	opts := playwright.PageClickOptions{}
	if ms, ok := readFloat(raw, "timeout_ms"); ok {
		opts.Timeout = playwright.Float(ms)
	}
	if err := tab.Page().Click(selector, opts); err != nil {
		return errResult("%w: %v", browserkernel.ErrElementNotFound, err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("clicked %s", selector)}, nil
}

// TypeTextTool fills a form field with text.
type TypeTextTool struct {
	kernel *browserkernel.Kernel
}

func NewTypeTextTool(kernel *browserkernel.Kernel) *TypeTextTool {
	return &TypeTextTool{kernel: kernel}
}

func (t *TypeTextTool) Name() string        { return "type_text" }
func (t *TypeTextTool) Description() string { return "Type text into the first element matching a CSS selector." }

func (t *TypeTextTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector of the input element"},
			"text": {"type": "string", "description": "Text to type"}
		},
		"required": ["selector", "text"]
	}`)
}

func (t *TypeTextTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	selector := readString(raw, "selector")
	text := readString(raw, "text")
	if selector == "" {
		return errResult("missing required parameter: selector"), nil
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}
	if err := tab.Page().Fill(selector, text); err != nil {
		return errResult("%w: %v", browserkernel.ErrElementNotFound, err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("typed into %s", selector)}, nil
}

// PressKeyTool sends a keyboard key to the focused element or page.
type PressKeyTool struct {
	kernel *browserkernel.Kernel
}

func NewPressKeyTool(kernel *browserkernel.Kernel) *PressKeyTool {
	return &PressKeyTool{kernel: kernel}
}

func (t *PressKeyTool) Name() string        { return "press_key" }
func (t *PressKeyTool) Description() string { return "Press a keyboard key (e.g. Enter, Tab, ArrowDown) on the primary tab." }

func (t *PressKeyTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Key name, e.g. Enter"}
		},
		"required": ["key"]
	}`)
}

func (t *PressKeyTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	key := readString(raw, "key")
	if key == "" {
		return errResult("missing required parameter: key"), nil
	}
	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}
	if err := tab.Page().Keyboard().Press(key); err != nil {
		return errResult("press key failed: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("pressed %s", key)}, nil
}

// ExtractContentTool drives the Extraction Pipeline over the primary tab:
// whole-page extraction with no selector, single-selector extraction with
// resolved hrefs otherwise, consulting the cache and recording selector
// outcomes along the way.
type ExtractContentTool struct {
	kernel   *browserkernel.Kernel
	pipeline *extraction.Pipeline
}

func NewExtractContentTool(kernel *browserkernel.Kernel, cacheSvc *cache.Service) *ExtractContentTool {
	return &ExtractContentTool{kernel: kernel, pipeline: extraction.New(cacheSvc)}
}

func (t *ExtractContentTool) Name() string { return "extract_content" }
func (t *ExtractContentTool) Description() string {
	return "Extract text and attributes from elements matching a selector on the current page. With no selector, extracts the full page's readable content."
}

func (t *ExtractContentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector; omit for whole-page extraction"},
			"extract_all": {"type": "boolean", "description": "Return every match instead of just the first"}
		}
	}`)
}

func (t *ExtractContentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	selector := readString(raw, "selector")
	extractAll, _ := raw["extract_all"].(bool)

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	if selector == "" {
		rec, err := t.pipeline.Universal(ctx, tab)
		if err != nil {
			return errResult("extract content failed: %v", err), nil
		}
		return jsonResult(map[string]string{"url": rec.URL, "content": extraction.Format(rec)})
	}

	domain := domainOf(tab.Page().URL())
	matches, err := t.pipeline.Selector(ctx, tab, domain, selector, extractAll)
	if err != nil {
		return errResult("%v", err), nil
	}

	if !extractAll {
		return jsonResult(map[string]string{"text": matches[0].Text, "href": matches[0].Href})
	}
	results := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		results = append(results, map[string]string{"text": m.Text, "href": m.Href})
	}
	return jsonResult(map[string]interface{}{"matches": results, "count": len(results)})
}

func domainOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ExtractMultipleTool runs the Extraction Pipeline's Parallel mode: each
// selector's cache entry is checked first, and only misses are extracted
// concurrently, bounded by a small worker pool.
type ExtractMultipleTool struct {
	kernel   *browserkernel.Kernel
	pipeline *extraction.Pipeline
}

func NewExtractMultipleTool(kernel *browserkernel.Kernel, cacheSvc *cache.Service) *ExtractMultipleTool {
	return &ExtractMultipleTool{kernel: kernel, pipeline: extraction.New(cacheSvc)}
}

func (t *ExtractMultipleTool) Name() string        { return "extract_multiple" }
func (t *ExtractMultipleTool) Description() string { return "Extract content for multiple selectors concurrently, returning a mapping of selector to result." }

func (t *ExtractMultipleTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selectors": {"type": "array", "items": {"type": "string"}, "description": "CSS selectors to extract"}
		},
		"required": ["selectors"]
	}`)
}

func (t *ExtractMultipleTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Selectors []string `json:"selectors"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if len(input.Selectors) == 0 {
		return errResult("missing required parameter: selectors"), nil
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	result, err := t.pipeline.Parallel(ctx, tab, domainOf(tab.Page().URL()), input.Selectors)
	if err != nil {
		return errResult("parallel extraction failed: %v", err), nil
	}

	return jsonResult(map[string]interface{}{
		"results":       result.Results,
		"cached_count":  result.CachedCount,
		"fetched_count": result.FetchedCount,
	})
}

// CloudflareBypassTool runs the challenge detect/solve primitives on the
// primary tab.
type CloudflareBypassTool struct {
	kernel *browserkernel.Kernel
}

func NewCloudflareBypassTool(kernel *browserkernel.Kernel) *CloudflareBypassTool {
	return &CloudflareBypassTool{kernel: kernel}
}

func (t *CloudflareBypassTool) Name() string        { return "cloudflare_bypass" }
func (t *CloudflareBypassTool) Description() string { return "Detect and, if present, solve an interactive Cloudflare challenge on the current page." }

func (t *CloudflareBypassTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timeout_ms": {"type": "integer", "description": "Time budget for solving in milliseconds, default 15000"}
		}
	}`)
}

func (t *CloudflareBypassTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	timeout := 15 * time.Second
	if ms, ok := readFloat(raw, "timeout_ms"); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	state, err := browserkernel.DetectChallenge(tab)
	if err != nil {
		return errResult("detect challenge failed: %v", err), nil
	}
	if state == browserkernel.ChallengeNone {
		return jsonResult(map[string]string{"state": string(state)})
	}
	if err := browserkernel.SolveChallenge(ctx, tab, timeout, 2*time.Second); err != nil {
		return errResult("solve challenge failed: %v", err), nil
	}
	return jsonResult(map[string]string{"state": "solved"})
}

// TakeScreenshotTool captures a screenshot of the full page or a selector.
// When a repository is configured, the PNG is persisted there (inline for
// small captures, to the backing Store above the inline threshold) and the
// returned artifact carries the repository's reference instead of raw bytes.
type TakeScreenshotTool struct {
	kernel *browserkernel.Kernel
	repo   artifacts.Repository
}

func NewTakeScreenshotTool(kernel *browserkernel.Kernel, repo artifacts.Repository) *TakeScreenshotTool {
	return &TakeScreenshotTool{kernel: kernel, repo: repo}
}

func (t *TakeScreenshotTool) Name() string        { return "take_screenshot" }
func (t *TakeScreenshotTool) Description() string { return "Capture a PNG screenshot of the current page or a single element." }

func (t *TakeScreenshotTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector to screenshot; omit for the full page"},
			"full_page": {"type": "boolean", "description": "Capture the full scrollable page"}
		}
	}`)
}

func (t *TakeScreenshotTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	selector := readString(raw, "selector")
	fullPage, _ := raw["full_page"].(bool)

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	var shot []byte
	if selector != "" {
		shot, err = tab.Page().Locator(selector).Screenshot()
	} else {
		shot, err = tab.Page().Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)})
	}
	if err != nil {
		return errResult("screenshot failed: %v", err), nil
	}

	id := fmt.Sprintf("screenshot-%d", time.Now().UnixNano())
	out := agent.Artifact{ID: id, Type: "screenshot", MimeType: "image/png", Data: shot}

	if t.repo != nil {
		art := &artifacts.Artifact{Id: id, Type: "screenshot", MimeType: "image/png", Size: int64(len(shot))}
		if err := t.repo.StoreArtifact(ctx, art, bytes.NewReader(shot)); err != nil {
			return errResult("persist screenshot failed: %v", err), nil
		}
		out.URL = art.Reference
		if art.Data != nil {
			out.Data = art.Data
		} else {
			out.Data = nil
		}
	}

	return &agent.ToolResult{
		Content:   "captured screenshot",
		Artifacts: []agent.Artifact{out},
	}, nil
}

// GetElementPositionTool returns an element's bounding box.
type GetElementPositionTool struct {
	kernel *browserkernel.Kernel
}

func NewGetElementPositionTool(kernel *browserkernel.Kernel) *GetElementPositionTool {
	return &GetElementPositionTool{kernel: kernel}
}

func (t *GetElementPositionTool) Name() string        { return "get_element_position" }
func (t *GetElementPositionTool) Description() string { return "Return the bounding box (x, y, width, height) of the first element matching a selector." }

func (t *GetElementPositionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector"}
		},
		"required": ["selector"]
	}`)
}

func (t *GetElementPositionTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	selector := readString(raw, "selector")
	if selector == "" {
		return errResult("missing required parameter: selector"), nil
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	box, err := tab.Page().Locator(selector).BoundingBox()
	if err != nil || box == nil {
		return errResult("%w: %s", browserkernel.ErrElementNotFound, selector), nil
	}
	return jsonResult(box)
}

// CaptureAPIResponseTool subscribes to network responses matching a URL
// substring and returns the first matching response body observed while
// triggering either a navigate or a click.
type CaptureAPIResponseTool struct {
	kernel *browserkernel.Kernel
}

func NewCaptureAPIResponseTool(kernel *browserkernel.Kernel) *CaptureAPIResponseTool {
	return &CaptureAPIResponseTool{kernel: kernel}
}

func (t *CaptureAPIResponseTool) Name() string { return "capture_api_response" }
func (t *CaptureAPIResponseTool) Description() string {
	return "Trigger a navigate or click and capture the body of the first network response whose URL contains a given pattern."
}

func (t *CaptureAPIResponseTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url_pattern": {"type": "string", "description": "Substring to match against response URLs"},
			"trigger": {"type": "string", "enum": ["navigate", "click"], "description": "Action that causes the response"},
			"url": {"type": "string", "description": "URL to navigate to, when trigger is navigate"},
			"selector": {"type": "string", "description": "Selector to click, when trigger is click"},
			"timeout_ms": {"type": "integer", "description": "Timeout in milliseconds, default 10000"}
		},
		"required": ["url_pattern", "trigger"]
	}`)
}

func (t *CaptureAPIResponseTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	pattern := readString(raw, "url_pattern")
	trigger := readString(raw, "trigger")
	if pattern == "" || trigger == "" {
		return errResult("missing required parameters: url_pattern, trigger"), nil
	}
	timeout := 10 * time.Second
	if ms, ok := readFloat(raw, "timeout_ms"); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}
	page := tab.Page()

	matcher := func(resp playwright.Response) bool {
		return strings.Contains(resp.URL(), pattern)
	}

	var trigerErr error
	resp, err := page.ExpectResponse(matcher, func() error {
		switch trigger {
		case "navigate":
			url := readString(raw, "url")
			if url == "" {
				trigerErr = fmt.Errorf("missing required parameter: url for navigate trigger")
				return trigerErr
			}
			_, err := page.Goto(url)
			return err
		case "click":
			selector := readString(raw, "selector")
			if selector == "" {
				trigerErr = fmt.Errorf("missing required parameter: selector for click trigger")
				return trigerErr
			}
			return page.Click(selector)
		default:
			trigerErr = fmt.Errorf("unsupported trigger %q", trigger)
			return trigerErr
		}
	}, playwright.PageExpectResponseOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))})
	if trigerErr != nil {
		return errResult("%v", trigerErr), nil
	}
	if err != nil {
		return errResult("no response matching %q observed: %v", pattern, err), nil
	}

	body, _ := resp.Text()
	return jsonResult(map[string]interface{}{"status": resp.Status(), "body": body})
}

// OpenBackgroundTabTool opens a new background tab without disturbing the
// primary tab's focus.
type OpenBackgroundTabTool struct {
	kernel *browserkernel.Kernel
}

func NewOpenBackgroundTabTool(kernel *browserkernel.Kernel) *OpenBackgroundTabTool {
	return &OpenBackgroundTabTool{kernel: kernel}
}

func (t *OpenBackgroundTabTool) Name() string        { return "open_background_tab" }
func (t *OpenBackgroundTabTool) Description() string { return "Open a new background tab, up to the configured ceiling of concurrent background tabs." }
func (t *OpenBackgroundTabTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *OpenBackgroundTabTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tab, err := t.kernel.OpenBackgroundTab(ctx)
	if err != nil {
		return errResult("open background tab failed: %v", err), nil
	}
	return jsonResult(map[string]string{"tab_id": tab.ID})
}

// ListTabsTool lists every known tab, primary tab first.
type ListTabsTool struct {
	kernel *browserkernel.Kernel
}

func NewListTabsTool(kernel *browserkernel.Kernel) *ListTabsTool {
	return &ListTabsTool{kernel: kernel}
}

func (t *ListTabsTool) Name() string        { return "list_tabs" }
func (t *ListTabsTool) Description() string { return "List every open tab with its id, url, title, and whether it can be closed." }
func (t *ListTabsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTabsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tabs, err := t.kernel.ListTabs(ctx)
	if err != nil {
		return errResult("list tabs failed: %v", err), nil
	}
	return jsonResult(tabs)
}

// CloseTabTool closes a background tab by id. Closing the primary tab is
// always rejected by the kernel.
type CloseTabTool struct {
	kernel *browserkernel.Kernel
}

func NewCloseTabTool(kernel *browserkernel.Kernel) *CloseTabTool {
	return &CloseTabTool{kernel: kernel}
}

func (t *CloseTabTool) Name() string        { return "close_tab" }
func (t *CloseTabTool) Description() string { return "Close a background tab by id." }
func (t *CloseTabTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tab_id": {"type": "string", "description": "Background tab id to close"}
		},
		"required": ["tab_id"]
	}`)
}

func (t *CloseTabTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	tabID := readString(raw, "tab_id")
	if tabID == "" {
		return errResult("missing required parameter: tab_id"), nil
	}
	if err := t.kernel.CloseTab(tabID); err != nil {
		return errResult("close tab failed: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("closed %s", tabID)}, nil
}

// VisitWebpageTool is the navigate+extract composite: it drives the
// primary tab to a URL, resolves any interactive challenge, and returns
// the page's readable content in one call.
type VisitWebpageTool struct {
	kernel    *browserkernel.Kernel
	extractor *websearch.ContentExtractor
}

func NewVisitWebpageTool(kernel *browserkernel.Kernel) *VisitWebpageTool {
	return &VisitWebpageTool{kernel: kernel, extractor: websearch.NewContentExtractor()}
}

func (t *VisitWebpageTool) Name() string        { return "visit_webpage" }
func (t *VisitWebpageTool) Description() string { return "Navigate to a URL and return its readable content in one call, handling Cloudflare challenges along the way." }

func (t *VisitWebpageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to visit"}
		},
		"required": ["url"]
	}`)
}

func (t *VisitWebpageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	raw, err := decodeParams(params)
	if err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	url := readString(raw, "url")
	if url == "" {
		return errResult("missing required parameter: url"), nil
	}

	if _, err := t.kernel.Navigate(ctx, "", url, "", 0); err != nil {
		return errResult("visit_webpage navigate failed: %v", err), nil
	}
	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}

	if state, err := browserkernel.DetectChallenge(tab); err == nil && state != browserkernel.ChallengeNone {
		browserkernel.SolveChallenge(ctx, tab, 15*time.Second, 2*time.Second) //nolint:errcheck
	}

	html, err := tab.Page().Content()
	if err != nil {
		return errResult("read page content failed: %v", err), nil
	}
	title, _ := tab.Page().Title()
	return jsonResult(map[string]string{
		"url":     tab.Page().URL(),
		"title":   title,
		"content": t.extractor.ExtractFromHTML(html),
	})
}

// CaptureMarkdownTool renders the current tab's content as a compact
// markdown document without navigating away.
type CaptureMarkdownTool struct {
	kernel    *browserkernel.Kernel
	extractor *websearch.ContentExtractor
}

func NewCaptureMarkdownTool(kernel *browserkernel.Kernel) *CaptureMarkdownTool {
	return &CaptureMarkdownTool{kernel: kernel, extractor: websearch.NewContentExtractor()}
}

func (t *CaptureMarkdownTool) Name() string        { return "capture_markdown" }
func (t *CaptureMarkdownTool) Description() string { return "Render the current tab's content as markdown." }
func (t *CaptureMarkdownTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CaptureMarkdownTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tab, err := t.kernel.Tab0(ctx)
	if err != nil {
		return errResult("%v", err), nil
	}
	html, err := tab.Page().Content()
	if err != nil {
		return errResult("read page content failed: %v", err), nil
	}
	title, _ := tab.Page().Title()
	markdown := fmt.Sprintf("# %s\n\n%s", title, t.extractor.ExtractFromHTML(html))
	return &agent.ToolResult{Content: markdown}, nil
}

// RegisterAll registers every browser tool against the registry, wiring
// each to the shared kernel, cache service, and artifact repository (which
// may be nil, in which case screenshots are returned inline only).
func RegisterAll(registry *agent.ToolRegistry, kernel *browserkernel.Kernel, cacheSvc *cache.Service, artifactRepo artifacts.Repository) {
	registry.Register(NewNavigateTool(kernel))
	registry.Register(NewGetCurrentURLTool(kernel))
	registry.Register(NewClickElementTool(kernel))
	registry.Register(NewTypeTextTool(kernel))
	registry.Register(NewPressKeyTool(kernel))
	registry.Register(NewExtractContentTool(kernel, cacheSvc))
	registry.Register(NewExtractMultipleTool(kernel, cacheSvc))
	registry.Register(NewCloudflareBypassTool(kernel))
	registry.Register(NewTakeScreenshotTool(kernel, artifactRepo))
	registry.Register(NewGetElementPositionTool(kernel))
	registry.Register(NewCaptureAPIResponseTool(kernel))
	registry.Register(NewOpenBackgroundTabTool(kernel))
	registry.Register(NewListTabsTool(kernel))
	registry.Register(NewCloseTabTool(kernel))
	registry.Register(NewVisitWebpageTool(kernel))
	registry.Register(NewCaptureMarkdownTool(kernel))
}
