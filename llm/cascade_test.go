package llm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeProvider scripts responses per model and counts calls.
type fakeProvider struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(model string, call int) (string, error)
}

func newFakeProvider(script func(model string, call int) (string, error)) *fakeProvider {
	return &fakeProvider{calls: make(map[string]int), script: script}
}

func (f *fakeProvider) Complete(model string, _ Request) (string, error) {
	f.mu.Lock()
	f.calls[model]++
	call := f.calls[model]
	script := f.script
	f.mu.Unlock()

	if script == nil {
		return "", errors.New("no script for model " + model)
	}
	return script(model, call)
}

func (f *fakeProvider) SourceName() string {
	return "fake"
}

func (f *fakeProvider) callCount(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func TestExecuteFallsThroughUnavailableModels(t *testing.T) {
	provider := newFakeProvider(func(model string, _ int) (string, error) {
		switch model {
		case "alpha", "beta":
			return "", Unavailable(model, errors.New("status 404"))
		default:
			return "from gamma", nil
		}
	})
	cascade := NewCascade([]Model{
		{ID: "alpha", Provider: provider},
		{ID: "beta", Provider: provider},
		{ID: "gamma", Provider: provider},
	}, time.Millisecond)

	text, err := cascade.Execute(Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if text != "from gamma" {
		t.Errorf("Execute = %q, want %q", text, "from gamma")
	}

	// Excluded models must not be attempted again within the session.
	if _, err := cascade.Execute(Request{Prompt: "again"}); err != nil {
		t.Fatalf("second Execute returned error: %v", err)
	}
	if got := provider.callCount("alpha"); got != 1 {
		t.Errorf("alpha called %d times, want 1", got)
	}
	if got := provider.callCount("beta"); got != 1 {
		t.Errorf("beta called %d times, want 1", got)
	}
	if got := provider.callCount("gamma"); got != 2 {
		t.Errorf("gamma called %d times, want 2", got)
	}
}

func TestExecuteSelfHealsOnceThenExhausts(t *testing.T) {
	provider := newFakeProvider(func(model string, _ int) (string, error) {
		return "", Unavailable(model, errors.New("status 404"))
	})
	cascade := NewCascade([]Model{
		{ID: "alpha", Provider: provider},
		{ID: "beta", Provider: provider},
	}, time.Millisecond)

	_, err := cascade.Execute(Request{Prompt: "hi"})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Execute error = %v, want ErrExhausted", err)
	}

	// One regular pass plus exactly one clean-slate retry.
	if got := provider.callCount("alpha"); got != 2 {
		t.Errorf("alpha called %d times, want 2", got)
	}
	if got := provider.callCount("beta"); got != 2 {
		t.Errorf("beta called %d times, want 2", got)
	}
}

func TestExecuteRecoversWhenExclusionWasTransient(t *testing.T) {
	provider := newFakeProvider(func(model string, call int) (string, error) {
		if call == 1 {
			return "", Throttled(model, errors.New("status 429"))
		}
		return "recovered", nil
	})
	cascade := NewCascade([]Model{{ID: "alpha", Provider: provider}}, time.Millisecond)

	text, err := cascade.Execute(Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if text != "recovered" {
		t.Errorf("Execute = %q, want %q", text, "recovered")
	}
}

func TestExecuteTransientFailureNotExcluded(t *testing.T) {
	provider := newFakeProvider(func(model string, _ int) (string, error) {
		if model == "alpha" {
			return "", errors.New("upstream 500")
		}
		return "from beta", nil
	})
	cascade := NewCascade([]Model{
		{ID: "alpha", Provider: provider},
		{ID: "beta", Provider: provider},
	}, time.Millisecond)

	for i := 0; i < 2; i++ {
		text, err := cascade.Execute(Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Execute %d returned error: %v", i+1, err)
		}
		if text != "from beta" {
			t.Errorf("Execute %d = %q, want %q", i+1, text, "from beta")
		}
	}

	// Server-side failures are retried on every call, never excluded.
	if got := provider.callCount("alpha"); got != 2 {
		t.Errorf("alpha called %d times, want 2", got)
	}
}

func TestExecuteExhaustsWithoutHealOnTransientFailures(t *testing.T) {
	provider := newFakeProvider(func(string, int) (string, error) {
		return "", errors.New("upstream 500")
	})
	cascade := NewCascade([]Model{{ID: "alpha", Provider: provider}}, time.Millisecond)

	_, err := cascade.Execute(Request{Prompt: "hi"})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Execute error = %v, want ErrExhausted", err)
	}
	// Nothing was excluded, so there is nothing to heal from.
	if got := provider.callCount("alpha"); got != 1 {
		t.Errorf("alpha called %d times, want 1", got)
	}
}

func TestExecuteNormalizesResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain text",
			raw:  "  a plain answer  ",
			want: "a plain answer",
		},
		{
			name: "message content envelope",
			raw:  `{"message":{"content":"inner text"}}`,
			want: "inner text",
		},
		{
			name: "text envelope",
			raw:  `{"text":" unwrapped "}`,
			want: "unwrapped",
		},
		{
			name: "contract object passes through",
			raw:  `{"confidence": 80}`,
			want: `{"confidence": 80}`,
		},
		{
			name: "structured content re-marshaled",
			raw:  `{"message":{"content":{"confidence":80}}}`,
			want: `{"confidence":80}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider(func(string, int) (string, error) {
				return tt.raw, nil
			})
			cascade := NewCascade([]Model{{ID: "alpha", Provider: provider}}, time.Millisecond)

			got, err := cascade.Execute(Request{Prompt: "x"})
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResetClearsExclusions(t *testing.T) {
	provider := newFakeProvider(func(model string, call int) (string, error) {
		if model == "alpha" {
			if call == 1 {
				return "", Unavailable(model, errors.New("status 404"))
			}
			return "alpha back", nil
		}
		return "from beta", nil
	})
	cascade := NewCascade([]Model{
		{ID: "alpha", Provider: provider},
		{ID: "beta", Provider: provider},
	}, time.Millisecond)

	if text, _ := cascade.Execute(Request{Prompt: "hi"}); text != "from beta" {
		t.Fatalf("first Execute = %q, want %q", text, "from beta")
	}
	excluded := cascade.Excluded()
	if len(excluded) != 1 || excluded[0] != "alpha" {
		t.Errorf("Excluded = %v, want [alpha]", excluded)
	}

	cascade.Reset()
	if len(cascade.Excluded()) != 0 {
		t.Errorf("Excluded after Reset = %v, want empty", cascade.Excluded())
	}
	if text, _ := cascade.Execute(Request{Prompt: "hi"}); text != "alpha back" {
		t.Errorf("Execute after Reset = %q, want %q", text, "alpha back")
	}
}

func TestParseOrdering(t *testing.T) {
	gemini := newFakeProvider(nil)
	openai := newFakeProvider(nil)
	providers := map[string]Provider{"gemini": gemini, "openai": openai}

	ordering, err := ParseOrdering([]string{
		"gemini:gemini-2.0-flash",
		"gemini:gemini-1.5-flash",
		"openai:gpt-4o-mini",
		"gemini:gemini-2.0-flash",
	}, providers)
	if err != nil {
		t.Fatalf("ParseOrdering returned error: %v", err)
	}
	if len(ordering) != 3 {
		t.Fatalf("ParseOrdering returned %d models, want 3 (duplicate dropped)", len(ordering))
	}
	if ordering[0].ID != "gemini-2.0-flash" {
		t.Errorf("ordering[0].ID = %q, want gemini-2.0-flash", ordering[0].ID)
	}
	if ordering[2].Provider != Provider(openai) {
		t.Errorf("ordering[2] resolved to the wrong provider")
	}

	for _, bad := range []string{"gemini", ":model", "gemini:", "anthropic:claude"} {
		if _, err := ParseOrdering([]string{bad}, providers); err == nil {
			t.Errorf("ParseOrdering(%q) expected error, got nil", bad)
		}
	}
	if _, err := ParseOrdering(nil, providers); err == nil {
		t.Error("ParseOrdering(nil) expected error, got nil")
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("status 404")
	err := fmt.Errorf("calling api: %w", Unavailable("gemini-pro", base))

	if !IsUnavailable(err) {
		t.Error("IsUnavailable = false for wrapped UnavailableError")
	}
	if IsThrottled(err) {
		t.Error("IsThrottled = true for UnavailableError")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is lost the wrapped base error")
	}

	throttled := Throttled("gpt-4o-mini", errors.New("status 429"))
	if !IsThrottled(throttled) {
		t.Error("IsThrottled = false for ThrottledError")
	}
	if IsUnavailable(throttled) {
		t.Error("IsUnavailable = true for ThrottledError")
	}
}
