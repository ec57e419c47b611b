package repair

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestPass(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"already clean", `{"url":"https://example.com"}`, `{"url":"https://example.com"}`},
		{"leading prose", `Sure, here is the call: {"url":"https://example.com"}`, `{"url":"https://example.com"}`},
		{"fenced code block", "```json\n{\"url\":\"https://example.com\"}\n```", `{"url":"https://example.com"}`},
		{"stray closing tag", `{"url":"https://example.com"}</tool_call>`, `{"url":"https://example.com"}`},
		{"stray backtick fragment", "`{\"url\":\"https://example.com\"}`", `{"url":"https://example.com"}`},
		{"leading and trailing whitespace", "  \n{\"url\":\"https://example.com\"}\n  ", `{"url":"https://example.com"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Pass(tc.raw)
			if got.Repaired != tc.expected {
				t.Errorf("Pass(%q).Repaired = %q, want %q", tc.raw, got.Repaired, tc.expected)
			}
		})
	}
}

func TestPassIsIdempotent(t *testing.T) {
	raw := "Sure: ```json\n{\"url\":\"https://example.com\"}\n```</tool_call>"
	first := Pass(raw)
	second := Pass(first.Repaired)
	if second.Changed() {
		t.Errorf("second pass changed already-repaired content: %q -> %q", first.Repaired, second.Repaired)
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantKey string
	}{
		{"valid json passes through", `{"a":1}`, true, "a"},
		{"trailing comma repaired", `{"a":1,}`, true, "a"},
		{"unquoted keys repaired via json5", `{a:1,b:2}`, true, "a"},
		{"fenced json repaired", "```json\n{\"a\":1}\n```", true, "a"},
		{"unrepairable garbage", `not json at all +++`, false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repaired, _, err := RepairJSON([]byte(tc.raw))
			if tc.wantOK && err != nil {
				t.Fatalf("RepairJSON(%q) returned error %v, want success", tc.raw, err)
			}
			if !tc.wantOK && err == nil {
				t.Fatalf("RepairJSON(%q) succeeded, want error", tc.raw)
			}
			if tc.wantOK {
				var m map[string]interface{}
				if err := json.Unmarshal(repaired, &m); err != nil {
					t.Fatalf("RepairJSON(%q) produced invalid JSON: %s", tc.raw, repaired)
				}
				if _, ok := m[tc.wantKey]; !ok {
					t.Errorf("RepairJSON(%q) missing key %q in %s", tc.raw, tc.wantKey, repaired)
				}
			}
		})
	}
}

func TestDedupeFinalAnswer(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "navigate"},
		{ID: "2", Name: FinalAnswerTool},
		{ID: "3", Name: "navigate"},
		{ID: "4", Name: FinalAnswerTool},
	}

	deduped, dropped := DedupeFinalAnswer(calls)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(deduped) != 3 {
		t.Fatalf("len(deduped) = %d, want 3", len(deduped))
	}

	wantOrder := []string{"1", "3", "4"}
	for i, id := range wantOrder {
		if deduped[i].ID != id {
			t.Errorf("deduped[%d].ID = %q, want %q", i, deduped[i].ID, id)
		}
	}
}

func TestDedupeFinalAnswerNoop(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "navigate"},
		{ID: "2", Name: FinalAnswerTool},
	}
	deduped, dropped := DedupeFinalAnswer(calls)
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	if len(deduped) != len(calls) {
		t.Fatalf("len(deduped) = %d, want %d", len(deduped), len(calls))
	}
}

func TestRepairBatch(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "navigate", Input: []byte(`{"url":"https://example.com",}`)},
		{ID: "2", Name: FinalAnswerTool, Input: []byte(`{"value":"A"}`)},
		{ID: "3", Name: FinalAnswerTool, Input: []byte("```json\n{\"value\":\"B\"}\n```")},
	}

	repaired, log := RepairBatch(calls)
	if len(repaired) != 2 {
		t.Fatalf("len(repaired) = %d, want 2", len(repaired))
	}
	if repaired[1].Name != FinalAnswerTool || string(repaired[1].Input) != `{"value":"B"}` {
		t.Errorf("surviving final_answer call = %+v, want value B", repaired[1])
	}
	if len(log) == 0 {
		t.Error("expected a non-empty change log for a batch with repairs and a dedupe")
	}
}
