// Package repair implements the structural normalization pass applied to
// model-emitted tool-invocation blocks before execution: model output is
// occasionally syntactically broken (leading prose, trailing prose, fenced
// code markers, stray closing tags, multiple terminal calls), and the Tool
// Registry should never see any of that.
package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/nexus/pkg/models"
)

// FinalAnswerTool is the distinguished terminal tool name: exactly one
// successful call to it ends a Run.
const FinalAnswerTool = "final_answer"

// Structural patterns mirror internal/exec/safety.go's validate-via-regex-
// family shape, applied to tool-call text instead of shell arguments.
var (
	fenceOpen      = regexp.MustCompile("```[a-zA-Z0-9_-]*\\n?")
	fenceClose     = regexp.MustCompile("```\\s*$")
	strayBacktick  = regexp.MustCompile("`+")
	closingTag     = regexp.MustCompile(`</[a-zA-Z_][a-zA-Z0-9_:-]*>\s*$`)
	leadingProse   = regexp.MustCompile(`^[^{\[]*`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedNewline = regexp.MustCompile(`[\r\n\t]`)
)

// ErrUnrepairable is returned when no structural pass produces valid JSON.
var ErrUnrepairable = errors.New("repair: content could not be normalized into valid JSON")

// Result records what the pass did to one block, for diff logging.
type Result struct {
	Original string
	Repaired string
	Changes  []string
}

// Changed reports whether the pass altered the content.
func (r Result) Changed() bool {
	return r.Original != r.Repaired
}

// Pass runs the five structural steps from the spec over one raw model-
// emitted text block and returns the normalized text plus a change log.
// It is idempotent: running it twice on its own output is a no-op.
func Pass(raw string) Result {
	res := Result{Original: raw, Repaired: raw}

	// 1. Strip content before an opening code tag / fence.
	if loc := fenceOpen.FindStringIndex(res.Repaired); loc != nil && loc[0] > 0 {
		res.Repaired = res.Repaired[loc[1]:]
		res.Changes = append(res.Changes, "stripped prose before opening fence")
	}

	// 5a. Drop fenced-code markers (leading fence already consumed above;
	// this also handles bodies with no leading prose but a fence wrapper).
	if stripped := fenceOpen.ReplaceAllString(res.Repaired, ""); stripped != res.Repaired {
		res.Repaired = stripped
		res.Changes = append(res.Changes, "dropped opening fence marker")
	}
	if stripped := fenceClose.ReplaceAllString(res.Repaired, ""); stripped != res.Repaired {
		res.Repaired = stripped
		res.Changes = append(res.Changes, "dropped closing fence marker")
	}

	// 3. Remove stray backtick fragments and closing tags embedded in code.
	if closingTag.MatchString(res.Repaired) {
		res.Repaired = closingTag.ReplaceAllString(res.Repaired, "")
		res.Changes = append(res.Changes, "removed stray closing tag")
	}
	if strayBacktick.MatchString(res.Repaired) {
		res.Repaired = strayBacktick.ReplaceAllString(res.Repaired, "")
		res.Changes = append(res.Changes, "removed stray backtick fragment")
	}

	// 2. Drop any non-code prose preceding the first tool call or
	// assignment: a '{' or '[' marks the first obvious code statement for
	// the JSON-shaped invocation blocks this pass normalizes.
	if loc := leadingProse.FindString(res.Repaired); loc != "" && strings.TrimSpace(loc) != "" {
		res.Repaired = strings.TrimPrefix(res.Repaired, loc)
		res.Changes = append(res.Changes, "dropped leading prose")
	}

	// 5b. Leading/trailing whitespace.
	if trimmed := strings.TrimSpace(res.Repaired); trimmed != res.Repaired {
		res.Repaired = trimmed
		res.Changes = append(res.Changes, "trimmed whitespace")
	}

	return res
}

// RepairJSON normalizes one tool call's raw argument bytes into strict
// JSON. It tries, in order: the bytes as-is, the structural Pass output,
// a JSON5-tolerant parse (trailing commas, unquoted keys, comments), and
// finally a regex-based trailing-comma strip. Returns ErrUnrepairable if
// none produce valid JSON.
func RepairJSON(raw []byte) ([]byte, []string, error) {
	var changes []string

	if json.Valid(raw) {
		return raw, nil, nil
	}

	candidate := string(raw)
	structural := Pass(candidate)
	if structural.Changed() {
		changes = append(changes, structural.Changes...)
		candidate = structural.Repaired
	}
	if json.Valid([]byte(candidate)) {
		return []byte(candidate), changes, nil
	}

	var generic interface{}
	if err := json5.Unmarshal([]byte(candidate), &generic); err == nil {
		reencoded, err := json.Marshal(generic)
		if err == nil {
			changes = append(changes, "reparsed with json5-tolerant syntax")
			return reencoded, changes, nil
		}
	}

	stripped := trailingComma.ReplaceAllString(candidate, "$1")
	stripped = unquotedNewline.ReplaceAllString(stripped, " ")
	if stripped != candidate && json.Valid([]byte(stripped)) {
		changes = append(changes, "stripped trailing commas")
		return []byte(stripped), changes, nil
	}

	return nil, changes, ErrUnrepairable
}

// RepairToolCall normalizes one ToolCall's Input in place, returning the
// repaired call and whether anything changed. A call whose Input cannot be
// normalized is returned unchanged; the registry's own JSON Schema
// validation surfaces the failure as an informative tool error rather than
// this pass silently swallowing it.
func RepairToolCall(call models.ToolCall) (models.ToolCall, []string) {
	if len(bytes.TrimSpace(call.Input)) == 0 {
		return call, nil
	}
	repaired, changes, err := RepairJSON(call.Input)
	if err != nil {
		return call, nil
	}
	call.Input = repaired
	return call, changes
}

// DedupeFinalAnswer implements rule 4: if more than one call to the
// distinguished final_answer primitive exists in a step, delete all but
// the last. Order of all other calls is preserved; a navigate-then-
// final_answer-then-navigate-then-final_answer sequence keeps both
// navigates and only the final final_answer, in original relative order.
func DedupeFinalAnswer(calls []models.ToolCall) ([]models.ToolCall, int) {
	lastFinal := -1
	for i, c := range calls {
		if c.Name == FinalAnswerTool {
			lastFinal = i
		}
	}
	if lastFinal < 0 {
		return calls, 0
	}

	dropped := 0
	out := make([]models.ToolCall, 0, len(calls))
	for i, c := range calls {
		if c.Name == FinalAnswerTool && i != lastFinal {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

// RepairBatch applies RepairToolCall to every call and then DedupeFinalAnswer
// to the result, returning the normalized batch and a flat change log
// suitable for the idempotent-pass diff logging the spec requires.
func RepairBatch(calls []models.ToolCall) ([]models.ToolCall, []string) {
	var log []string
	repaired := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		rc, changes := RepairToolCall(c)
		repaired[i] = rc
		for _, ch := range changes {
			log = append(log, rc.Name+": "+ch)
		}
	}

	deduped, dropped := DedupeFinalAnswer(repaired)
	if dropped > 0 {
		log = append(log, "dropped "+strconv.Itoa(dropped)+" duplicate final_answer call(s), kept last")
	}
	return deduped, log
}
