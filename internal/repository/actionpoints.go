package repository

import (
	"context"
	"encoding/json"
	"time"

	"campustrust/internal/model"
)

func (s *Store) CreateActionPoint(ctx context.Context, point model.ActionPoint) error {
	geofence, err := json.Marshal(point.Geofence)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO action_points
			(id, name, action_type, location_code, qr_mode, geofence, rotating_secret, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, point.ID, point.Name, point.ActionType, point.LocationCode, point.QRMode, geofence, point.RotatingSecret, point.IsActive, point.CreatedAt, point.UpdatedAt)
	return err
}

func (s *Store) GetActionPoint(ctx context.Context, pointID string) (model.ActionPoint, error) {
	var point model.ActionPoint
	var geofence []byte
	row := s.db.QueryRow(ctx, `
		SELECT id, name, action_type, location_code, qr_mode, geofence, rotating_secret, is_active, created_at, updated_at
		FROM action_points
		WHERE id = $1
	`, pointID)
	err := row.Scan(
		&point.ID,
		&point.Name,
		&point.ActionType,
		&point.LocationCode,
		&point.QRMode,
		&geofence,
		&point.RotatingSecret,
		&point.IsActive,
		&point.CreatedAt,
		&point.UpdatedAt,
	)
	if err != nil {
		return point, err
	}
	if err := json.Unmarshal(geofence, &point.Geofence); err != nil {
		return point, err
	}
	return point, nil
}

func (s *Store) UpdateActionPoint(ctx context.Context, point model.ActionPoint) error {
	geofence, err := json.Marshal(point.Geofence)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE action_points
		SET name = $1, action_type = $2, location_code = $3, qr_mode = $4,
			geofence = $5, rotating_secret = $6, is_active = $7, updated_at = $8
		WHERE id = $9
	`, point.Name, point.ActionType, point.LocationCode, point.QRMode, geofence, point.RotatingSecret, point.IsActive, time.Now().UTC(), point.ID)
	return err
}

func (s *Store) ListActionPoints(ctx context.Context, limit int32) ([]model.ActionPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, action_type, location_code, qr_mode, geofence, rotating_secret, is_active, created_at, updated_at
		FROM action_points
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.ActionPoint
	for rows.Next() {
		var point model.ActionPoint
		var geofence []byte
		err := rows.Scan(
			&point.ID,
			&point.Name,
			&point.ActionType,
			&point.LocationCode,
			&point.QRMode,
			&geofence,
			&point.RotatingSecret,
			&point.IsActive,
			&point.CreatedAt,
			&point.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(geofence, &point.Geofence); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}
