package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestFinalAnswerToolExecute(t *testing.T) {
	tool := NewFinalAnswerTool()

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"value":"done"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.IsError {
		t.Fatalf("Execute flagged error result: %s", res.Content)
	}
	if res.Content != `"done"` {
		t.Errorf("Content = %q, want %q", res.Content, `"done"`)
	}
}

func TestFinalAnswerToolRejectsMissingValue(t *testing.T) {
	tool := NewFinalAnswerTool()
	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing value")
	}
}

func TestFormatFinalAnswerPlainString(t *testing.T) {
	got := formatFinalAnswer(json.RawMessage(`"the answer is 42"`))
	if got != "the answer is 42" {
		t.Errorf("got %q", got)
	}
}

func TestFormatFinalAnswerSearchResults(t *testing.T) {
	raw := json.RawMessage(`{
		"query": "go concurrency patterns",
		"results": [
			{"title": "Effective Go", "url": "https://go.dev/doc/effective_go"},
			{"title": "Go Concurrency Patterns", "url": "https://go.dev/blog/pipelines"}
		]
	}`)
	got := formatFinalAnswer(raw)
	if !strings.Contains(got, "go concurrency patterns") {
		t.Errorf("missing query in output: %s", got)
	}
	if !strings.Contains(got, "[Effective Go](https://go.dev/doc/effective_go)") {
		t.Errorf("missing markdown link in output: %s", got)
	}
}

func TestFormatFinalAnswerSearchResultsOverflow(t *testing.T) {
	results := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		results = append(results, `{"title":"r","url":"https://example.com"}`)
	}
	raw := json.RawMessage(`{"query":"q","results":[` + strings.Join(results, ",") + `]}`)
	got := formatFinalAnswer(raw)
	if !strings.Contains(got, "...and 2 more result(s)") {
		t.Errorf("expected overflow notice, got: %s", got)
	}
}

func TestFormatFinalAnswerStructuredValue(t *testing.T) {
	got := formatFinalAnswer(json.RawMessage(`{"status":"ok","count":3}`))
	if !strings.Contains(got, `"status": "ok"`) {
		t.Errorf("expected pretty-printed JSON, got: %s", got)
	}
}

func TestFormatFinalAnswerEmpty(t *testing.T) {
	if got := formatFinalAnswer(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
