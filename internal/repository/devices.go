package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"campustrust/internal/model"
)

const trustRecordColumns = `id, user_id, device_id, fingerprint, status, registered_at,
revoked_at, revoke_reason, reset_count, last_reset_at, last_active_at, total_scans`

func (s *Store) CreateTrustRecord(ctx context.Context, record model.DeviceTrustRecord) error {
	fingerprint, err := json.Marshal(record.Fingerprint)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO device_trust_records
			(id, user_id, device_id, fingerprint, status, registered_at, reset_count, total_scans)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.UserID, record.DeviceID, fingerprint, record.Status, record.RegisteredAt, record.ResetCount, record.TotalScans)
	return err
}

func (s *Store) GetTrustRecord(ctx context.Context, recordID string) (model.DeviceTrustRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+trustRecordColumns+`
		FROM device_trust_records
		WHERE id = $1
	`, recordID)
	return scanTrustRecord(row)
}

func (s *Store) GetActiveTrustRecordForUser(ctx context.Context, userID string) (model.DeviceTrustRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+trustRecordColumns+`
		FROM device_trust_records
		WHERE user_id = $1 AND status = 'active'
	`, userID)
	return scanTrustRecord(row)
}

// GetLatestTrustRecordForUser returns the user's most recent binding in any
// status. Registration consults it: a revoked latest record blocks new
// registrations until a reset.
func (s *Store) GetLatestTrustRecordForUser(ctx context.Context, userID string) (model.DeviceTrustRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+trustRecordColumns+`
		FROM device_trust_records
		WHERE user_id = $1
		ORDER BY registered_at DESC
		LIMIT 1
	`, userID)
	return scanTrustRecord(row)
}

// SupersedeActiveRecords retires a user's active binding ahead of a new
// registration. The record keeps its history; it is not revoked.
func (s *Store) SupersedeActiveRecords(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE device_trust_records
		SET status = 'superseded', revoked_at = $1
		WHERE user_id = $2 AND status = 'active'
	`, at, userID)
	return err
}

func (s *Store) UpdateTrustStatus(ctx context.Context, recordID string, status model.TrustStatus, revokedAt *time.Time, reason *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE device_trust_records
		SET status = $1, revoked_at = $2, revoke_reason = $3
		WHERE id = $4
	`, status, revokedAt, reason, recordID)
	return err
}

// ResetTrustRecordsForUser clears the user's active or revoked bindings so
// a fresh registration may proceed. Clearing revoked records is the point:
// reset is the explicit re-authorization after a revocation. The reset
// audit trail lives on the record.
func (s *Store) ResetTrustRecordsForUser(ctx context.Context, userID string, reason string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE device_trust_records
		SET status = 'reset', revoke_reason = $1, reset_count = reset_count + 1, last_reset_at = $2
		WHERE user_id = $3 AND status IN ('active', 'revoked')
	`, reason, at, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountResetsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM device_trust_records
		WHERE user_id = $1 AND last_reset_at >= $2
	`, userID, since).Scan(&count)
	return count, err
}

// RecordScanAccepted bumps the per-record scan counters. The increment is a
// single conditional UPDATE so concurrent scans for the same device cannot
// lose updates.
func (s *Store) RecordScanAccepted(ctx context.Context, recordID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE device_trust_records
		SET total_scans = total_scans + 1, last_active_at = $1
		WHERE id = $2 AND status = 'active'
	`, at, recordID)
	return err
}

type ListTrustRecordsParams struct {
	Status   string
	Search   string
	Limit    int32
	Offset   int32
}

func (s *Store) ListTrustRecords(ctx context.Context, params ListTrustRecordsParams) ([]model.DeviceTrustRecord, error) {
	clauses := []string{"TRUE"}
	args := []any{}
	if params.Status != "" {
		args = append(args, params.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		clauses = append(clauses, fmt.Sprintf("(user_id::text ILIKE $%d OR device_id ILIKE $%d)", len(args), len(args)))
	}
	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT `+trustRecordColumns+`
		FROM device_trust_records
		WHERE %s
		ORDER BY registered_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DeviceTrustRecord
	for rows.Next() {
		record, err := scanTrustRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type DeviceStats struct {
	TotalRegistered    int64
	ActiveCount        int64
	RevokedCount       int64
	RegisteredThisWeek int64
	PlatformCounts     map[string]int64
}

func (s *Store) GetDeviceStats(ctx context.Context) (DeviceStats, error) {
	stats := DeviceStats{PlatformCounts: map[string]int64{}}
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'revoked'),
			COUNT(*) FILTER (WHERE registered_at >= NOW() - INTERVAL '7 days')
		FROM device_trust_records
	`).Scan(&stats.TotalRegistered, &stats.ActiveCount, &stats.RevokedCount, &stats.RegisteredThisWeek)
	if err != nil {
		return stats, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT fingerprint->>'platform', COUNT(*)
		FROM device_trust_records
		GROUP BY 1
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var platform *string
		var count int64
		if err := rows.Scan(&platform, &count); err != nil {
			return stats, err
		}
		if platform != nil {
			stats.PlatformCounts[*platform] = count
		}
	}
	return stats, rows.Err()
}

type FlaggedDevice struct {
	Record        model.DeviceTrustRecord
	RejectedScans int64
}

// ListFlaggedDevices surfaces trust records with the most rejected scans in
// the period, most suspicious first.
func (s *Store) ListFlaggedDevices(ctx context.Context, since time.Time, minRejected int64, limit int32) ([]FlaggedDevice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.user_id, r.device_id, r.fingerprint, r.status, r.registered_at,
			r.revoked_at, r.revoke_reason, r.reset_count, r.last_reset_at, r.last_active_at, r.total_scans,
			COUNT(e.id) AS rejected
		FROM device_trust_records r
		JOIN scan_events e ON e.user_id = r.user_id::text AND e.device_id = r.device_id
		WHERE e.validation_result = 'rejected' AND e.scanned_at >= $1
		GROUP BY r.id
		HAVING COUNT(e.id) >= $2
		ORDER BY rejected DESC
		LIMIT $3
	`, since, minRejected, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flagged []FlaggedDevice
	for rows.Next() {
		var entry FlaggedDevice
		var fingerprint []byte
		err := rows.Scan(
			&entry.Record.ID,
			&entry.Record.UserID,
			&entry.Record.DeviceID,
			&fingerprint,
			&entry.Record.Status,
			&entry.Record.RegisteredAt,
			&entry.Record.RevokedAt,
			&entry.Record.RevokeReason,
			&entry.Record.ResetCount,
			&entry.Record.LastResetAt,
			&entry.Record.LastActiveAt,
			&entry.Record.TotalScans,
			&entry.RejectedScans,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fingerprint, &entry.Record.Fingerprint); err != nil {
			return nil, err
		}
		flagged = append(flagged, entry)
	}
	return flagged, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrustRecord(row rowScanner) (model.DeviceTrustRecord, error) {
	var record model.DeviceTrustRecord
	var fingerprint []byte
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.DeviceID,
		&fingerprint,
		&record.Status,
		&record.RegisteredAt,
		&record.RevokedAt,
		&record.RevokeReason,
		&record.ResetCount,
		&record.LastResetAt,
		&record.LastActiveAt,
		&record.TotalScans,
	)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(fingerprint, &record.Fingerprint); err != nil {
		return record, err
	}
	return record, nil
}
