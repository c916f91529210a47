package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campustrust/internal/model"
)

const scanEventColumns = `id, user_id, device_id, action_point_id, action_type, qr_mode,
scanned_at, latitude, longitude, geo_validated, device_validated, validation_result, rejection_reason`

func (s *Store) CreateScanEvent(ctx context.Context, event model.ScanEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scan_events
			(`+scanEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		event.ID, event.UserID, event.DeviceID, event.ActionPointID, event.ActionType, event.QRMode,
		event.ScannedAt, event.Latitude, event.Longitude, event.GeoValidated, event.DeviceValidated,
		event.ValidationResult, event.RejectionReason,
	)
	return err
}

func (s *Store) GetScanEvent(ctx context.Context, eventID string) (model.ScanEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+scanEventColumns+`
		FROM scan_events
		WHERE id = $1
	`, eventID)
	return scanScanEvent(row)
}

type ListScanEventsParams struct {
	UserID        string
	DeviceID      string
	ActionPointID string
	Result        string
	Since         *time.Time
	Limit         int32
	Offset        int32
}

func (s *Store) ListScanEvents(ctx context.Context, params ListScanEventsParams) ([]model.ScanEvent, error) {
	clauses := []string{"TRUE"}
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if params.UserID != "" {
		add("user_id = $%d", params.UserID)
	}
	if params.DeviceID != "" {
		add("device_id = $%d", params.DeviceID)
	}
	if params.ActionPointID != "" {
		add("action_point_id = $%d", params.ActionPointID)
	}
	if params.Result != "" {
		add("validation_result = $%d", params.Result)
	}
	if params.Since != nil {
		add("scanned_at >= $%d", *params.Since)
	}
	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT `+scanEventColumns+`
		FROM scan_events
		WHERE %s
		ORDER BY scanned_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ScanEvent
	for rows.Next() {
		event, err := scanScanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type ScanSummaryRow struct {
	Day        time.Time
	ActionType string
	Accepted   int64
	Rejected   int64
}

func (s *Store) ScanSummary(ctx context.Context, since time.Time) ([]ScanSummaryRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date_trunc('day', scanned_at) AS day, action_type,
			COUNT(*) FILTER (WHERE validation_result = 'accepted'),
			COUNT(*) FILTER (WHERE validation_result = 'rejected')
		FROM scan_events
		WHERE scanned_at >= $1
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []ScanSummaryRow
	for rows.Next() {
		var entry ScanSummaryRow
		if err := rows.Scan(&entry.Day, &entry.ActionType, &entry.Accepted, &entry.Rejected); err != nil {
			return nil, err
		}
		summary = append(summary, entry)
	}
	return summary, rows.Err()
}

type RejectionBucketRow struct {
	ActionPointID   string
	RejectionReason string
	Count           int64
	PointTotal      int64
}

// RejectionBuckets returns per-(action point, reason) rejection counts next
// to the point's total traffic for the same window.
func (s *Store) RejectionBuckets(ctx context.Context, since time.Time) ([]RejectionBucketRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.action_point_id, e.rejection_reason, COUNT(*) AS bucket,
			(SELECT COUNT(*) FROM scan_events t
			 WHERE t.action_point_id = e.action_point_id AND t.scanned_at >= $1) AS total
		FROM scan_events e
		WHERE e.validation_result = 'rejected' AND e.rejection_reason IS NOT NULL AND e.scanned_at >= $1
		GROUP BY e.action_point_id, e.rejection_reason
		ORDER BY bucket DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []RejectionBucketRow
	for rows.Next() {
		var entry RejectionBucketRow
		if err := rows.Scan(&entry.ActionPointID, &entry.RejectionReason, &entry.Count, &entry.PointTotal); err != nil {
			return nil, err
		}
		buckets = append(buckets, entry)
	}
	return buckets, rows.Err()
}

func scanScanEvent(row rowScanner) (model.ScanEvent, error) {
	var event model.ScanEvent
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&event.DeviceID,
		&event.ActionPointID,
		&event.ActionType,
		&event.QRMode,
		&event.ScannedAt,
		&event.Latitude,
		&event.Longitude,
		&event.GeoValidated,
		&event.DeviceValidated,
		&event.ValidationResult,
		&event.RejectionReason,
	)
	return event, err
}
