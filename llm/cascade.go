package llm

import (
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/durvesh-thorat/RETRIVA/metrics"
)

const defaultBackoff = 1500 * time.Millisecond

// Cascade tries an ordered list of models until one answers. Models that
// come back 404 or 429 are excluded for the rest of the session; transient
// failures are retried on the next call. Safe for concurrent use.
type Cascade struct {
	ordering []Model
	backoff  time.Duration

	mu       sync.Mutex
	excluded map[string]bool
	rng      *rand.Rand
}

// NewCascade builds a cascade over ordering. backoff is the base wait after
// a throttled model before the next candidate; <=0 uses the default.
func NewCascade(ordering []Model, backoff time.Duration) *Cascade {
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Cascade{
		ordering: ordering,
		backoff:  backoff,
		excluded: make(map[string]bool),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset clears the session exclusion set, making every model eligible again.
func (c *Cascade) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excluded = make(map[string]bool)
}

// Excluded returns the model ids currently excluded, in ordering order.
func (c *Cascade) Excluded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for _, m := range c.ordering {
		if c.excluded[m.ID] {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Execute walks the ordering and returns the first successful response,
// normalized to plain text. When every candidate is session-excluded it
// clears the exclusions once and retries the full ordering, so exclusions
// caused by transient throttling cannot wedge the cascade permanently.
func (c *Cascade) Execute(req Request) (string, error) {
	if text, ok := c.runOrdering(req); ok {
		return text, nil
	}

	if !c.allExcluded() {
		metrics.CascadeExhaustedTotal.Inc()
		return "", ErrExhausted
	}

	log.Warn("all models excluded, clearing exclusions for one retry")
	c.Reset()
	if text, ok := c.runOrdering(req); ok {
		return text, nil
	}

	metrics.CascadeExhaustedTotal.Inc()
	return "", ErrExhausted
}

func (c *Cascade) runOrdering(req Request) (string, bool) {
	for _, m := range c.ordering {
		if c.isExcluded(m.ID) {
			continue
		}

		raw, err := m.Provider.Complete(m.ID, req)
		if err == nil {
			metrics.CascadeAttemptsTotal.WithLabelValues(m.ID, "success").Inc()
			return normalizeResponse(raw), true
		}

		switch {
		case IsUnavailable(err):
			metrics.CascadeAttemptsTotal.WithLabelValues(m.ID, "unavailable").Inc()
			metrics.CascadeExclusionsTotal.WithLabelValues(m.ID, "unavailable").Inc()
			log.Warnf("model %s not served by %s, excluding for session: %v", m.ID, m.Provider.SourceName(), err)
			c.exclude(m.ID)
		case IsThrottled(err):
			metrics.CascadeAttemptsTotal.WithLabelValues(m.ID, "throttled").Inc()
			metrics.CascadeExclusionsTotal.WithLabelValues(m.ID, "throttled").Inc()
			log.Warnf("model %s throttled, excluding for session: %v", m.ID, err)
			c.exclude(m.ID)
			time.Sleep(c.jitter())
		default:
			metrics.CascadeAttemptsTotal.WithLabelValues(m.ID, "error").Inc()
			log.Warnf("model %s failed, trying next candidate: %v", m.ID, err)
		}
	}
	return "", false
}

func (c *Cascade) isExcluded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.excluded[id]
}

func (c *Cascade) exclude(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excluded[id] = true
}

func (c *Cascade) allExcluded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.ordering {
		if !c.excluded[m.ID] {
			return false
		}
	}
	return true
}

// jitter spreads throttle waits over [backoff/2, backoff*3/2) so parallel
// requests do not hammer the next candidate in lockstep.
func (c *Cascade) jitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff/2 + time.Duration(c.rng.Int63n(int64(c.backoff)))
}

// normalizeResponse unwraps the envelope shapes gateways are known to wrap
// around model output: a raw string, {"message":{"content":...}} or
// {"text":...}. Anything else passes through untouched.
func normalizeResponse(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	var envelope struct {
		Message *struct {
			Content any `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return trimmed
	}

	if envelope.Message != nil && envelope.Message.Content != nil {
		return contentToString(envelope.Message.Content)
	}
	if envelope.Text != nil {
		return strings.TrimSpace(*envelope.Text)
	}
	return trimmed
}

// contentToString handles content blocks that are not plain strings by
// re-marshaling them, mirroring how multi-part chat payloads are flattened.
func contentToString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
