package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/matching"
	"github.com/durvesh-thorat/RETRIVA/middleware"
	"github.com/durvesh-thorat/RETRIVA/models"
)

// EventPublisher pushes report lifecycle events onto the broker. An
// interface so handlers can be exercised without a live RabbitMQ.
type EventPublisher interface {
	Publish(message any) error
}

// ReportHandler serves the report lifecycle and the AI-backed match
// endpoints.
type ReportHandler struct {
	db      *database.Database
	matcher *matching.Matcher
	cache   *matching.MatchCache
	events  EventPublisher
}

func NewReportHandler(db *database.Database, matcher *matching.Matcher, cache *matching.MatchCache, events EventPublisher) *ReportHandler {
	return &ReportHandler{db: db, matcher: matcher, cache: cache, events: events}
}

// CreateReport files a new lost or found report and announces it on the
// broker for async analysis.
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req models.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("Invalid report request: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	if req.Type != models.ReportTypeLost && req.Type != models.ReportTypeFound {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Type must be LOST or FOUND"})
		return
	}
	if !models.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Unknown category"})
		return
	}

	report := &models.ItemReport{
		ID:          uuid.NewString(),
		ReporterID:  middleware.UserID(c),
		Type:        req.Type,
		Status:      models.ReportStatusOpen,
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Location:    req.Location,
		DateText:    req.DateText,
		TimeText:    req.TimeText,
		ImageURLs:   req.ImageURLs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.db.CreateReport(report); err != nil {
		log.Errorf("Failed to create report: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create report"})
		return
	}

	h.publishCreated(report)
	c.JSON(http.StatusCreated, report)
}

func (h *ReportHandler) publishCreated(report *models.ItemReport) {
	if h.events == nil {
		return
	}
	event := models.ReportCreatedEvent{
		ReportID:   report.ID,
		ReporterID: report.ReporterID,
		CreatedAt:  report.CreatedAt,
	}
	// Analysis is best effort. A broker outage must not fail the write.
	if err := h.events.Publish(event); err != nil {
		log.Errorf("Failed to publish report.created for %s: %v", report.ID, err)
	}
}

// GetReport fetches one report. Flagged reports stay visible to their own
// reporter and nobody else.
func (h *ReportHandler) GetReport(c *gin.Context) {
	report, ok := h.loadReport(c)
	if !ok {
		return
	}
	if report.IsFlagged && report.ReporterID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListOpenReports is the browse feed. Optional type and category query
// parameters narrow it.
func (h *ReportHandler) ListOpenReports(c *gin.Context) {
	reports, err := h.db.ListOpenReports()
	if err != nil {
		log.Errorf("Failed to list open reports: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list reports"})
		return
	}

	typeFilter := strings.ToUpper(c.Query("type"))
	categoryFilter := c.Query("category")

	filtered := make([]*models.ItemReport, 0, len(reports))
	for _, r := range reports {
		if typeFilter != "" && string(r.Type) != typeFilter {
			continue
		}
		if categoryFilter != "" && !strings.EqualFold(r.Category, categoryFilter) {
			continue
		}
		filtered = append(filtered, r)
	}

	c.JSON(http.StatusOK, gin.H{"reports": filtered, "count": len(filtered)})
}

// MyReports lists everything the authenticated user has filed, including
// resolved and flagged reports.
func (h *ReportHandler) MyReports(c *gin.Context) {
	reports, err := h.db.ListReportsByReporter(middleware.UserID(c))
	if err != nil {
		log.Errorf("Failed to list reports: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// ResolveReport closes an open report. Only the reporter can do it, and only
// once.
func (h *ReportHandler) ResolveReport(c *gin.Context) {
	report, ok := h.loadReport(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	if report.ReporterID != userID {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Only the reporter can resolve a report"})
		return
	}

	if err := h.db.ResolveReport(report.ID, userID); err != nil {
		if errors.Is(err, database.ErrReportNotOpen) {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Report is already resolved"})
			return
		}
		log.Errorf("Failed to resolve report %s: %v", report.ID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to resolve report"})
		return
	}

	h.cache.Invalidate(c.Request.Context(), report.ID)
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Report resolved"})
}

// ExtractAttributes runs the vision extraction over an uploaded photo to
// prefill the report form.
func (h *ReportHandler) ExtractAttributes(c *gin.Context) {
	var req models.ExtractAttributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	image, err := decodeImage(req.Image)
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Image must be base64 encoded"})
		return
	}

	c.JSON(http.StatusOK, h.matcher.ExtractAttributes(image))
}

// FindMatches returns scored candidates for the caller's own report, from
// cache when the open-report state has not moved since the last run.
func (h *ReportHandler) FindMatches(c *gin.Context) {
	report, ok := h.loadReport(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	if report.ReporterID != userID {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Only the reporter can request matches"})
		return
	}

	ctx := c.Request.Context()
	if report.Status != models.ReportStatusOpen || report.IsFlagged {
		h.cache.Invalidate(ctx, report.ID)
		c.JSON(http.StatusOK, models.MatchAlert{ReportID: report.ID, Candidates: []models.MatchCandidate{}})
		return
	}

	open, err := h.db.ListOpenReports()
	if err != nil {
		// Degrade to an empty list rather than failing the request.
		log.Warnf("Failed to list open reports for matching: %v", err)
		c.JSON(http.StatusOK, models.MatchAlert{ReportID: report.ID, Candidates: []models.MatchCandidate{}})
		return
	}

	signature := matching.Signature(userID, open)
	if matches, hit := h.cache.Get(ctx, report.ID, signature); hit {
		c.JSON(http.StatusOK, models.MatchAlert{ReportID: report.ID, Candidates: matches})
		return
	}

	matches := h.matcher.FindCandidates(report, open)
	h.cache.Put(ctx, report.ID, signature, matches)
	c.JSON(http.StatusOK, models.MatchAlert{ReportID: report.ID, Candidates: matches})
}

// CompareReports runs the detailed two-item comparison.
func (h *ReportHandler) CompareReports(c *gin.Context) {
	var req models.CompareItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	itemA, err := h.db.GetReport(req.ItemA)
	if err != nil {
		h.respondReportError(c, err)
		return
	}
	itemB, err := h.db.GetReport(req.ItemB)
	if err != nil {
		h.respondReportError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.matcher.CompareItems(itemA, itemB))
}

func (h *ReportHandler) loadReport(c *gin.Context) (*models.ItemReport, bool) {
	report, err := h.db.GetReport(c.Param("id"))
	if err != nil {
		h.respondReportError(c, err)
		return nil, false
	}
	return report, true
}

func (h *ReportHandler) respondReportError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Report not found"})
		return
	}
	log.Errorf("Failed to fetch report: %v", err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to fetch report"})
}

// decodeImage accepts both raw base64 and data: URLs.
func decodeImage(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx != -1 {
			encoded = encoded[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}
