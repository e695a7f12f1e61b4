package parser

import (
	"reflect"
	"testing"
)

func TestParseObject(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected map[string]any
	}{
		{
			name: "plain JSON response",
			response: `{
				"title": "Black iPhone 13",
				"category": "Electronics",
				"confidence": 87
			}`,
			expected: map[string]any{
				"title":      "Black iPhone 13",
				"category":   "Electronics",
				"confidence": float64(87),
			},
		},
		{
			name: "markdown fenced JSON with language identifier",
			response: "Here is the analysis:\n\n```json\n" +
				`{"title": "Blue Hydro Flask", "category": "Accessories"}` +
				"\n```\n\nLet me know if you need anything else.",
			expected: map[string]any{
				"title":    "Blue Hydro Flask",
				"category": "Accessories",
			},
		},
		{
			name: "markdown fenced JSON with uppercase language identifier",
			response: "```JSON\n" +
				`{"confidence": "92%"}` +
				"\n```",
			expected: map[string]any{
				"confidence": "92%",
			},
		},
		{
			name: "markdown fenced JSON without language identifier",
			response: "```\n" +
				`{"title": "Student ID card"}` +
				"\n```",
			expected: map[string]any{
				"title": "Student ID card",
			},
		},
		{
			name:     "object wrapped in prose with trailing braces",
			response: `The result is {"confidence": 75, "explanation": "similar color"} and the trailing {braces} in prose are ignored.`,
			expected: map[string]any{
				"confidence":  float64(75),
				"explanation": "similar color",
			},
		},
		{
			name:     "nested object",
			response: `{"matches": [{"id": "r1", "confidence": 80}]}`,
			expected: map[string]any{
				"matches": []any{
					map[string]any{"id": "r1", "confidence": float64(80)},
				},
			},
		},
		{
			name:     "invalid JSON",
			response: `{"title": "truncated`,
			expected: map[string]any{},
		},
		{
			name:     "no JSON at all",
			response: "I could not find any item in this image.",
			expected: map[string]any{},
		},
		{
			name:     "empty response",
			response: "",
			expected: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseObject(tt.response)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseObject() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExtractJSONFromMarkdownArray(t *testing.T) {
	response := "```json\n" + `[{"id": "a"}, {"id": "b"}]` + "\n```"
	got := ExtractJSONFromMarkdown(response)
	want := `[{"id": "a"}, {"id": "b"}]`
	if got != want {
		t.Errorf("ExtractJSONFromMarkdown() = %q, want %q", got, want)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		fallback int
		expected int
	}{
		{name: "integer in range", value: 87, fallback: 50, expected: 87},
		{name: "float in range", value: 87.4, fallback: 50, expected: 87},
		{name: "float rounds up", value: 87.5, fallback: 50, expected: 88},
		{name: "json number", value: float64(42), fallback: 50, expected: 42},
		{name: "percent string", value: "85%", fallback: 50, expected: 85},
		{name: "percent string with spaces", value: " 92 %", fallback: 50, expected: 92},
		{name: "numeric string", value: "64", fallback: 50, expected: 64},
		{name: "fraction treated as percentage", value: 0.76, fallback: 50, expected: 76},
		{name: "fraction string", value: "0.9", fallback: 50, expected: 90},
		{name: "exactly one is full confidence", value: 1, fallback: 50, expected: 100},
		{name: "zero stays zero", value: 0, fallback: 50, expected: 0},
		{name: "above range clamps", value: 140, fallback: 50, expected: 100},
		{name: "negative clamps", value: -12, fallback: 50, expected: 0},
		{name: "non-numeric string falls back", value: "high", fallback: 50, expected: 50},
		{name: "nil falls back to comparison neutral", value: nil, fallback: ComparisonConfidenceFallback, expected: 50},
		{name: "nil falls back to candidate zero", value: nil, fallback: CandidateConfidenceFallback, expected: 0},
		{name: "unsupported type falls back", value: []string{"x"}, fallback: 50, expected: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeConfidence(tt.value, tt.fallback)
			if got != tt.expected {
				t.Errorf("NormalizeConfidence(%v) = %d, want %d", tt.value, got, tt.expected)
			}
			if got < 0 || got > 100 {
				t.Errorf("NormalizeConfidence(%v) = %d, outside [0,100]", tt.value, got)
			}
		})
	}
}

func TestNormalizeConfidenceIdempotent(t *testing.T) {
	inputs := []any{87, 87.4, "85%", "0.9", 0.76, 1, 0, 140, -12, "high", nil}

	for _, input := range inputs {
		first := NormalizeConfidence(input, ComparisonConfidenceFallback)
		second := NormalizeConfidence(first, ComparisonConfidenceFallback)
		if first != second {
			t.Errorf("NormalizeConfidence not idempotent for %v: first=%d second=%d", input, first, second)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	obj := ParseObject(`{
		"title": "  Black Wallet ",
		"tags": ["leather", "", "black", 7],
		"matches": [{"id": "a"}, "junk", {"id": "b"}]
	}`)

	if got := StringField(obj, "title"); got != "Black Wallet" {
		t.Errorf("StringField(title) = %q, want %q", got, "Black Wallet")
	}
	if got := StringField(obj, "missing"); got != "" {
		t.Errorf("StringField(missing) = %q, want empty", got)
	}

	tags := StringSliceField(obj, "tags")
	if !reflect.DeepEqual(tags, []string{"leather", "black"}) {
		t.Errorf("StringSliceField(tags) = %v, want [leather black]", tags)
	}

	matches := ObjectSliceField(obj, "matches")
	if len(matches) != 2 {
		t.Fatalf("ObjectSliceField(matches) returned %d entries, want 2", len(matches))
	}
	if matches[1]["id"] != "b" {
		t.Errorf("ObjectSliceField(matches)[1][id] = %v, want b", matches[1]["id"])
	}
}
