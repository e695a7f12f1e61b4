// Package llm abstracts the model providers used by the match orchestrator
// and runs them as an ordered fallback cascade.
package llm

import (
	"fmt"
	"strings"
)

// Request is one prompt for a model: a system instruction, the user text,
// and optional inline JPEG images.
type Request struct {
	System string
	Prompt string
	Images [][]byte
}

// Provider executes requests against one backend family. Implementations
// must be concurrency-safe: the cascade is shared across request handlers.
type Provider interface {
	// Complete sends req to the named model and returns the raw response
	// text. Failures are classified with Unavailable/Throttled for the
	// cascade's exclusion rules; anything else is treated as transient.
	Complete(model string, req Request) (string, error)

	// SourceName returns a short provider name for logs.
	SourceName() string
}

// Model is one candidate in a cascade ordering.
type Model struct {
	ID       string
	Provider Provider
}

// ParseOrdering resolves "provider:model" specs against the registered
// providers, preserving order and dropping duplicate model ids.
func ParseOrdering(specs []string, providers map[string]Provider) ([]Model, error) {
	var ordering []Model
	seen := map[string]bool{}

	for _, spec := range specs {
		parts := strings.SplitN(strings.TrimSpace(spec), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid model spec %q, want provider:model", spec)
		}
		provider, ok := providers[parts[0]]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q in model spec %q", parts[0], spec)
		}
		if seen[parts[1]] {
			continue
		}
		seen[parts[1]] = true
		ordering = append(ordering, Model{ID: parts[1], Provider: provider})
	}

	if len(ordering) == 0 {
		return nil, fmt.Errorf("model cascade ordering is empty")
	}
	return ordering, nil
}
