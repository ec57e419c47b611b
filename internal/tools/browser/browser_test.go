package browser

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/browserkernel"
)

var kernelCheck struct {
	once   sync.Once
	kernel *browserkernel.Kernel
	err    error
}

func requireKernel(t *testing.T) *browserkernel.Kernel {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser tool integration tests in short mode")
	}

	kernelCheck.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		kernel, err := browserkernel.NewKernel(ctx, browserkernel.Config{
			Headless:     true,
			EphemeralDir: filepath.Join(os.TempDir(), "nexus-browser-tool-test"),
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

// toolNameTable exercises Name/Description/Schema for every tool without
// needing a live browser, catching registration and schema typos.
func toolNameTable(t *testing.T) map[string]interface {
	Name() string
	Description() string
	Schema() json.RawMessage
} {
	t.Helper()
	k := (*browserkernel.Kernel)(nil)
	return map[string]interface {
		Name() string
		Description() string
		Schema() json.RawMessage
	}{
		"navigate":              NewNavigateTool(k),
		"get_current_url":       NewGetCurrentURLTool(k),
		"click_element":         NewClickElementTool(k),
		"type_text":             NewTypeTextTool(k),
		"press_key":             NewPressKeyTool(k),
		"extract_content":       NewExtractContentTool(k, nil),
		"extract_multiple":      NewExtractMultipleTool(k, nil),
		"cloudflare_bypass":     NewCloudflareBypassTool(k),
		"take_screenshot":       NewTakeScreenshotTool(k, nil),
		"get_element_position":  NewGetElementPositionTool(k),
		"capture_api_response":  NewCaptureAPIResponseTool(k),
		"open_background_tab":   NewOpenBackgroundTabTool(k),
		"list_tabs":             NewListTabsTool(k),
		"close_tab":             NewCloseTabTool(k),
		"visit_webpage":         NewVisitWebpageTool(k),
		"capture_markdown":      NewCaptureMarkdownTool(k),
	}
}

func TestToolNamesMatchRegistration(t *testing.T) {
	for expectedName, tool := range toolNameTable(t) {
		if tool.Name() != expectedName {
			t.Errorf("expected name %q, got %q", expectedName, tool.Name())
		}
		if tool.Description() == "" {
			t.Errorf("%s: description must not be empty", expectedName)
		}
		var schema map[string]interface{}
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Errorf("%s: schema is not valid JSON: %v", expectedName, err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s: schema root type must be object, got %v", expectedName, schema["type"])
		}
	}
}

func TestRegisterAllRegistersEveryTool(t *testing.T) {
	registry := agent.NewToolRegistry()
	RegisterAll(registry, nil, nil, nil)
	for name := range toolNameTable(t) {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("expected %s to be registered", name)
		}
	}
}

func TestKernelBackedNavigateAndExtract(t *testing.T) {
	k := requireKernel(t)

	navigate := NewNavigateTool(k)
	params, _ := json.Marshal(map[string]string{"url": "about:blank"})
	res, err := navigate.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("navigate: err=%v result=%+v", err, res)
	}

	extract := NewExtractContentTool(k, nil)
	res, err = extract.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.IsError {
		t.Fatalf("extract returned error: %s", res.Content)
	}
}

func TestKernelBackedScreenshotPersistsThroughRepository(t *testing.T) {
	k := requireKernel(t)

	navigate := NewNavigateTool(k)
	params, _ := json.Marshal(map[string]string{"url": "about:blank"})
	if res, err := navigate.Execute(context.Background(), params); err != nil || res.IsError {
		t.Fatalf("navigate: err=%v result=%+v", err, res)
	}

	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer store.Close()
	repo := artifacts.NewMemoryRepository(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	shot := NewTakeScreenshotTool(k, repo)
	res, err := shot.Execute(context.Background(), json.RawMessage(`{"full_page": true}`))
	if err != nil || res.IsError {
		t.Fatalf("screenshot: err=%v result=%+v", err, res)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(res.Artifacts))
	}
	art := res.Artifacts[0]
	if art.URL == "" {
		t.Error("expected artifact URL to carry the repository reference")
	}

	stored, data, err := repo.GetArtifact(context.Background(), art.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	defer data.Close()
	if stored.Type != "screenshot" || stored.MimeType != "image/png" {
		t.Errorf("unexpected stored metadata: %+v", stored)
	}
}

func TestKernelBackedListAndCloseTab(t *testing.T) {
	k := requireKernel(t)

	open := NewOpenBackgroundTabTool(k)
	res, err := open.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("open background tab: err=%v result=%+v", err, res)
	}
	var opened struct {
		TabID string `json:"tab_id"`
	}
	if err := json.Unmarshal([]byte(res.Content), &opened); err != nil {
		t.Fatalf("decode open result: %v", err)
	}

	list := NewListTabsTool(k)
	res, err = list.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("list tabs: err=%v result=%+v", err, res)
	}
	if !strings.Contains(res.Content, opened.TabID) {
		t.Fatalf("expected listing to contain %s, got %s", opened.TabID, res.Content)
	}

	closeTab := NewCloseTabTool(k)
	params, _ := json.Marshal(map[string]string{"tab_id": opened.TabID})
	res, err = closeTab.Execute(context.Background(), params)
	if err != nil || res.IsError {
		t.Fatalf("close tab: err=%v result=%+v", err, res)
	}
}

func TestCloseTabRejectsTabZero(t *testing.T) {
	k := requireKernel(t)

	closeTab := NewCloseTabTool(k)
	params, _ := json.Marshal(map[string]string{"tab_id": "tab-0"})
	res, err := closeTab.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("close tab-0: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected closing tab-0 to be rejected")
	}
}
