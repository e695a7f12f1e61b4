// Package analyzer is the background worker behind report-created events:
// it moderates fresh reports, warms the match cache and alerts the reporter
// when candidate matches already exist.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/matching"
	"github.com/durvesh-thorat/RETRIVA/models"
	"github.com/durvesh-thorat/RETRIVA/moderation"
	"github.com/durvesh-thorat/RETRIVA/rabbitmq"
	"github.com/durvesh-thorat/RETRIVA/ws"
)

const screenTimeout = 30 * time.Second

// Worker processes freshly created reports off the queue.
type Worker struct {
	db       *database.Database
	matcher  *matching.Matcher
	cache    *matching.MatchCache
	screener *moderation.Screener
	hub      *ws.Hub
}

// NewWorker creates the analyze worker.
func NewWorker(db *database.Database, matcher *matching.Matcher, cache *matching.MatchCache,
	screener *moderation.Screener, hub *ws.Hub) *Worker {
	return &Worker{db: db, matcher: matcher, cache: cache, screener: screener, hub: hub}
}

// Callbacks returns the routing-key handlers this worker serves.
func (w *Worker) Callbacks(reportCreatedKey string) map[string]rabbitmq.CallbackFunc {
	return map[string]rabbitmq.CallbackFunc{
		reportCreatedKey: w.handleReportCreated,
	}
}

func (w *Worker) handleReportCreated(msg *rabbitmq.Message) error {
	var event models.ReportCreatedEvent
	if err := msg.UnmarshalTo(&event); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("failed to decode report event: %w", err))
	}
	if event.ReportID == "" {
		return rabbitmq.Permanent(errors.New("report event without id"))
	}

	report, err := w.db.GetReport(event.ReportID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return rabbitmq.Permanent(fmt.Errorf("report %s vanished before analysis", event.ReportID))
		}
		return fmt.Errorf("failed to load report %s: %w", event.ReportID, err)
	}

	if w.moderate(report) {
		// Flagged reports are pulled from the open pool, so there is
		// nothing to match and nobody to alert.
		return nil
	}
	w.warmMatches(report)
	return nil
}

func (w *Worker) moderate(report *models.ItemReport) bool {
	ctx, cancel := context.WithTimeout(context.Background(), screenTimeout)
	defer cancel()

	text := report.Title + "\n" + report.Description + "\n" + strings.Join(report.Tags, " ")
	verdict := w.screener.Screen(ctx, text)
	if !verdict.Flagged {
		return false
	}

	log.Warnf("report %s flagged by moderation: %s", report.ID, verdict.Reason)
	if err := w.db.SetReportFlagged(report.ID, true); err != nil {
		log.Errorf("failed to store moderation verdict for %s: %v", report.ID, err)
	}
	return true
}

// warmMatches computes and caches the match list for a new report so the
// first browse is instant, then alerts the reporter if candidates exist.
func (w *Worker) warmMatches(report *models.ItemReport) {
	ctx, cancel := context.WithTimeout(context.Background(), screenTimeout)
	defer cancel()

	open, err := w.db.ListOpenReports()
	if err != nil {
		log.Warnf("skipping match warm-up for report %s: %v", report.ID, err)
		return
	}

	matches := w.matcher.FindCandidates(report, open)
	w.cache.Put(ctx, report.ID, matching.Signature(report.ReporterID, open), matches)
	if len(matches) == 0 {
		return
	}

	log.Infof("report %s has %d candidate matches, alerting reporter %s",
		report.ID, len(matches), report.ReporterID)
	w.hub.Broadcast(ws.UserRoom(report.ReporterID), ws.Event{
		Type: "match_alert",
		Data: models.MatchAlert{ReportID: report.ID, Candidates: matches},
	})
}
