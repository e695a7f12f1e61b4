package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/durvesh-thorat/RETRIVA/models"
)

// ErrReportNotOpen is returned when resolving a report that has already been
// resolved.
var ErrReportNotOpen = errors.New("report is not open")

const reportColumns = `id, reporter_id, type, status, category, title, description,
	tags, location, date_text, time_text, image_urls, is_flagged, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateReport inserts a new item report.
func (d *Database) CreateReport(report *models.ItemReport) error {
	query := `
	INSERT INTO item_reports (
		id, reporter_id, type, status, category, title, description,
		tags, location, date_text, time_text, image_urls, is_flagged, created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query,
		report.ID, report.ReporterID, report.Type, report.Status,
		report.Category, report.Title, report.Description,
		marshalStrings(report.Tags), report.Location, report.DateText,
		report.TimeText, marshalStrings(report.ImageURLs), report.IsFlagged,
		report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// GetReport fetches one report by id.
func (d *Database) GetReport(id string) (*models.ItemReport, error) {
	query := `SELECT ` + reportColumns + ` FROM item_reports WHERE id = ?`
	report, err := scanReport(d.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch report %s: %w", id, err)
	}
	return report, nil
}

// ListOpenReports returns every open, unflagged report, newest first.
// Flagged reports are filtered here so that browsing, match scoring and the
// analyze worker all see the same set.
func (d *Database) ListOpenReports() ([]*models.ItemReport, error) {
	query := `SELECT ` + reportColumns + `
	FROM item_reports
	WHERE status = 'OPEN' AND is_flagged = FALSE
	ORDER BY created_at DESC, id DESC`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// ListReportsByReporter returns all reports a user has filed, newest first.
func (d *Database) ListReportsByReporter(reporterID string) ([]*models.ItemReport, error) {
	query := `SELECT ` + reportColumns + `
	FROM item_reports
	WHERE reporter_id = ?
	ORDER BY created_at DESC, id DESC`

	rows, err := d.db.Query(query, reporterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports for %s: %w", reporterID, err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// ResolveReport transitions a report from OPEN to RESOLVED. The status filter
// in the WHERE clause is what makes the transition one-way.
func (d *Database) ResolveReport(id, reporterID string) error {
	result, err := d.db.Exec(
		"UPDATE item_reports SET status = 'RESOLVED' WHERE id = ? AND reporter_id = ? AND status = 'OPEN'",
		id, reporterID)
	if err != nil {
		return fmt.Errorf("failed to resolve report %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if rows == 0 {
		return ErrReportNotOpen
	}
	return nil
}

// SetReportFlagged records the moderation verdict for a report.
func (d *Database) SetReportFlagged(id string, flagged bool) error {
	_, err := d.db.Exec("UPDATE item_reports SET is_flagged = ? WHERE id = ?", flagged, id)
	if err != nil {
		return fmt.Errorf("failed to flag report %s: %w", id, err)
	}
	return nil
}

func collectReports(rows *sql.Rows) ([]*models.ItemReport, error) {
	var reports []*models.ItemReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

func scanReport(row rowScanner) (*models.ItemReport, error) {
	var r models.ItemReport
	var description, tagsJSON, location, dateText, timeText, imagesJSON sql.NullString
	err := row.Scan(&r.ID, &r.ReporterID, &r.Type, &r.Status, &r.Category,
		&r.Title, &description, &tagsJSON, &location, &dateText, &timeText,
		&imagesJSON, &r.IsFlagged, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.Location = location.String
	r.DateText = dateText.String
	r.TimeText = timeText.String
	r.Tags = unmarshalStrings(tagsJSON.String)
	r.ImageURLs = unmarshalStrings(imagesJSON.String)
	return &r, nil
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
