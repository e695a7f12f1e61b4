package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"github.com/durvesh-thorat/RETRIVA/models"
)

// cachedMatches is the stored cache entry. The signature records which
// open-report state the matches were computed from.
type cachedMatches struct {
	Signature string                  `json:"signature"`
	Matches   []models.MatchCandidate `json:"matches"`
	CachedAt  time.Time               `json:"cached_at"`
}

// MatchCache keeps the last computed match list per report so re-opening a
// report does not re-issue model calls. Best effort throughout: a missing
// or broken Redis is a cache miss, never an error.
type MatchCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMatchCache(client *redis.Client, ttl time.Duration) *MatchCache {
	return &MatchCache{client: client, ttl: ttl}
}

func matchKey(reportID string) string {
	return "match:" + reportID
}

// Signature fingerprints the open-report state a match list depends on:
// the reporter's open count, the newest open report, and the total open
// count. Any report created or resolved since changes the signature.
func Signature(reporterID string, openReports []*models.ItemReport) string {
	reporterOpen := 0
	newestID := ""
	var newest time.Time
	for _, r := range openReports {
		if r.ReporterID == reporterID {
			reporterOpen++
		}
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
			newestID = r.ID
		}
	}
	return fmt.Sprintf("%d:%s:%d", reporterOpen, newestID, len(openReports))
}

// Get returns the cached matches for a report if the stored signature still
// matches the current one.
func (c *MatchCache) Get(ctx context.Context, reportID, signature string) ([]models.MatchCandidate, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, matchKey(reportID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("match cache read failed: %v", err)
		}
		return nil, false
	}

	var entry cachedMatches
	if err := json.Unmarshal(data, &entry); err != nil {
		// corrupt entry reads as a miss
		log.Warnf("match cache entry corrupt, ignoring: %v", err)
		return nil, false
	}
	if entry.Signature != signature {
		return nil, false
	}
	return entry.Matches, true
}

// Put stores the matches computed for a report under the given signature.
func (c *MatchCache) Put(ctx context.Context, reportID, signature string, matches []models.MatchCandidate) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(cachedMatches{
		Signature: signature,
		Matches:   matches,
		CachedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Warnf("match cache marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, matchKey(reportID), data, c.ttl).Err(); err != nil {
		log.Warnf("match cache write failed: %v", err)
	}
}

// Invalidate drops the cached matches for a report.
func (c *MatchCache) Invalidate(ctx context.Context, reportID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, matchKey(reportID)).Err(); err != nil {
		log.Warnf("match cache invalidation failed: %v", err)
	}
}
