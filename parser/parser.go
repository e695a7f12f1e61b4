package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Confidence fallbacks when a response carries no usable confidence value.
const (
	ComparisonConfidenceFallback = 50
	CandidateConfidenceFallback  = 0
)

// ExtractJSONFromMarkdown extracts the JSON payload from a model response
// that may wrap it in markdown code fences or surrounding prose.
func ExtractJSONFromMarkdown(response string) string {
	startMarker := "```"
	endMarker := "```"

	cleaned := strings.TrimSpace(response)

	startIdx := strings.Index(cleaned, startMarker)
	if startIdx == -1 {
		return extractBalanced(cleaned)
	}

	endIdx := strings.Index(cleaned[startIdx+len(startMarker):], endMarker)
	if endIdx == -1 {
		return extractBalanced(cleaned)
	}
	endIdx += startIdx + len(startMarker)

	content := cleaned[startIdx+len(startMarker) : endIdx]

	// Remove the language identifier if present (e.g., "json", "JSON")
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == "" || strings.EqualFold(first, "json") {
			content = strings.Join(lines[1:], "\n")
		}
	}

	return extractBalanced(strings.TrimSpace(content))
}

// extractBalanced substrings from the first top-level '{' or '[' to its
// matching closer. Brace depth is tracked outside of string literals so
// trailing prose after the payload does not poison the parse. Returns the
// input unchanged when no balanced payload is found.
func extractBalanced(s string) string {
	objIdx := strings.Index(s, "{")
	arrIdx := strings.Index(s, "[")

	startIdx := objIdx
	if startIdx == -1 || (arrIdx != -1 && arrIdx < objIdx) {
		startIdx = arrIdx
	}
	if startIdx == -1 {
		return s
	}

	open := s[startIdx]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := startIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[startIdx : i+1])
			}
		}
	}

	// Unbalanced: fall back to the last closer, if any
	endIdx := strings.LastIndexByte(s, close)
	if endIdx > startIdx {
		return strings.TrimSpace(s[startIdx : endIdx+1])
	}
	return s
}

// ParseObject parses a model response into a generic object. It never fails:
// any extraction or decode error yields an empty object, so callers branch on
// missing fields instead of handling parse errors.
func ParseObject(response string) map[string]any {
	content := ExtractJSONFromMarkdown(response)

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

// NormalizeConfidence coerces a loosely typed confidence value into an
// integer in [0,100]. Percent-suffixed strings are parsed, values in (0,1]
// are treated as fractions and scaled, everything is rounded and clamped.
// Absent or non-numeric values yield fallback. Idempotent: normalizing an
// already-normal value returns it unchanged.
func NormalizeConfidence(value any, fallback int) int {
	var f float64

	switch v := value.(type) {
	case nil:
		return clampConfidence(fallback)
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return clampConfidence(fallback)
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return clampConfidence(fallback)
		}
		f = parsed
	default:
		return clampConfidence(fallback)
	}

	if f > 0 && f <= 1 {
		f *= 100
	}

	return clampConfidence(int(math.Round(f)))
}

func clampConfidence(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// StringField reads a string field from a parsed object; "" when absent or
// not a string.
func StringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// StringSliceField reads a string-array field from a parsed object. Non-string
// elements are skipped.
func StringSliceField(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ObjectSliceField reads an array-of-objects field from a parsed object.
// Non-object elements are skipped.
func ObjectSliceField(obj map[string]any, key string) []map[string]any {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
