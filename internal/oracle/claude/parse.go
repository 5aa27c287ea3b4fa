package claude

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/agentforest/forest/internal/oracle"
)

// Pre-compiled regular expressions for performance.
var (
	// Code fence patterns. Newlines are optional to handle responses
	// where the model omits them around the fence.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	// JSON cleanup patterns
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)

	// JSON extraction patterns (greedy to capture nested content)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// parseGroups parses a grouping verdict out of raw model output.
// Models ignore "no markdown" instructions often enough that parsing
// needs fallback strategies:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Fix trailing commas and retry
//  4. Extract the outermost JSON array from mixed content and retry
func parseGroups(text string) ([][]int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}

	if groups, ok := tryDecode(trimmed); ok {
		return groups, nil
	}

	if stripped := removeCodeFences(trimmed); stripped != trimmed {
		slog.Debug("response was fenced despite instructions", "len", len(text))
		if groups, ok := tryDecode(stripped); ok {
			return groups, nil
		}
		trimmed = stripped
	}

	if cleaned := trailingCommaRegex.ReplaceAllString(trimmed, "$1"); cleaned != trimmed {
		if groups, ok := tryDecode(cleaned); ok {
			return groups, nil
		}
	}

	if extracted := arrayRegex.FindString(trimmed); extracted != "" {
		candidate := trailingCommaRegex.ReplaceAllString(extracted, "$1")
		if groups, ok := tryDecode(candidate); ok {
			slog.Debug("extracted group list from mixed content", "len", len(text))
			return groups, nil
		}
	}

	preview := text
	if len(preview) > 500 {
		preview = preview[:500] + "..."
	}
	return nil, fmt.Errorf("no parseable JSON group list in response: %q", preview)
}

// parseAlignment parses an alignment verdict out of raw model output,
// with the same fallback ladder as parseGroups.
func parseAlignment(text string) (*oracle.AlignmentVerdict, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}

	if v, ok := tryDecodeAlignment(trimmed); ok {
		return v, nil
	}

	if stripped := removeCodeFences(trimmed); stripped != trimmed {
		slog.Debug("response was fenced despite instructions", "len", len(text))
		if v, ok := tryDecodeAlignment(stripped); ok {
			return v, nil
		}
		trimmed = stripped
	}

	if cleaned := trailingCommaRegex.ReplaceAllString(trimmed, "$1"); cleaned != trimmed {
		if v, ok := tryDecodeAlignment(cleaned); ok {
			return v, nil
		}
	}

	if extracted := objectRegex.FindString(trimmed); extracted != "" {
		candidate := trailingCommaRegex.ReplaceAllString(extracted, "$1")
		if v, ok := tryDecodeAlignment(candidate); ok {
			slog.Debug("extracted verdict object from mixed content", "len", len(text))
			return v, nil
		}
	}

	preview := text
	if len(preview) > 500 {
		preview = preview[:500] + "..."
	}
	return nil, fmt.Errorf("no parseable JSON verdict in response: %q", preview)
}

func tryDecodeAlignment(text string) (*oracle.AlignmentVerdict, bool) {
	var raw struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}
	v := &oracle.AlignmentVerdict{
		Status: oracle.AlignmentStatus(strings.ToLower(strings.TrimSpace(raw.Status))),
		Reason: raw.Reason,
	}
	if v.Validate() != nil {
		return nil, false
	}
	return v, true
}

func tryDecode(text string) ([][]int, bool) {
	var groups [][]int
	if err := json.Unmarshal([]byte(text), &groups); err != nil {
		return nil, false
	}
	return groups, true
}

// removeCodeFences strips markdown code fences from the text.
func removeCodeFences(text string) string {
	if m := codeFenceStartRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
