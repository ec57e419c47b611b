package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// finalAnswerSchema is the JSON Schema for the terminal tool: a single
// "value" parameter carrying whatever the model decided the Run's answer
// is, structured or not.
const finalAnswerSchema = `{
  "type": "object",
  "properties": {
    "value": {}
  },
  "required": ["value"]
}`

// FinalAnswerTool is the distinguished terminal primitive every Run must
// call exactly once to stop. Executing it does no work beyond echoing its
// argument back as the tool result; the orchestrator, not the tool, is
// what recognizes this name and ends the Run (see AgenticLoop.Run).
type FinalAnswerTool struct{}

// NewFinalAnswerTool constructs the terminal primitive.
func NewFinalAnswerTool() *FinalAnswerTool {
	return &FinalAnswerTool{}
}

func (t *FinalAnswerTool) Name() string { return "final_answer" }

func (t *FinalAnswerTool) Description() string {
	return "Ends the run and records the given value as the final answer. Call exactly once, last."
}

func (t *FinalAnswerTool) Schema() json.RawMessage {
	return json.RawMessage(finalAnswerSchema)
}

func (t *FinalAnswerTool) Execute(_ context.Context, params json.RawMessage) (*ToolResult, error) {
	var args struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid final_answer arguments: %v", err), IsError: true}, nil
	}
	if len(args.Value) == 0 {
		return &ToolResult{Content: "final_answer requires a value", IsError: true}, nil
	}
	return &ToolResult{Content: string(args.Value)}, nil
}

// maxSearchResultsShown bounds the bullet list rendered for a search-result
// final answer; remaining results are summarized as an overflow count.
const maxSearchResultsShown = 10

// formatFinalAnswer implements §4.9 item 4: a final answer shaped like a
// search-result record (has "query" and "results") renders as markdown
// bullet links capped at maxSearchResultsShown plus an overflow count;
// any other structured value (object or array) pretty-prints as JSON;
// everything else stringifies directly.
func formatFinalAnswer(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Not JSON at all (a bare string final_answer argument with no
		// quoting) — stringify as-is.
		return trimmed
	}

	if obj, ok := generic.(map[string]interface{}); ok {
		if query, hasQuery := obj["query"]; hasQuery {
			if results, hasResults := obj["results"].([]interface{}); hasResults {
				return formatSearchResultAnswer(fmt.Sprintf("%v", query), results)
			}
		}
		return prettyPrintAnswer(generic)
	}

	if arr, ok := generic.([]interface{}); ok {
		return prettyPrintAnswer(arr)
	}

	switch v := generic.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatSearchResultAnswer(query string, results []interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", query)

	shown := results
	overflow := 0
	if len(results) > maxSearchResultsShown {
		shown = results[:maxSearchResultsShown]
		overflow = len(results) - maxSearchResultsShown
	}

	for _, r := range shown {
		item, ok := r.(map[string]interface{})
		if !ok {
			fmt.Fprintf(&b, "- %v\n", r)
			continue
		}
		title := stringField(item, "title", "url", "name")
		url := stringField(item, "url", "link")
		switch {
		case title != "" && url != "":
			fmt.Fprintf(&b, "- [%s](%s)\n", title, url)
		case url != "":
			fmt.Fprintf(&b, "- %s\n", url)
		case title != "":
			fmt.Fprintf(&b, "- %s\n", title)
		default:
			fmt.Fprintf(&b, "- %v\n", item)
		}
	}
	if overflow > 0 {
		fmt.Fprintf(&b, "\n...and %d more result(s)\n", overflow)
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// prettyPrintAnswer renders a structured value as indented JSON.
// encoding/json already sorts map keys during marshaling.
func prettyPrintAnswer(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
