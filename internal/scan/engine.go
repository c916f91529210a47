package scan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"campustrust/internal/metrics"
	"campustrust/internal/model"
	"campustrust/internal/token"
)

type store interface {
	GetActionPoint(ctx context.Context, pointID string) (model.ActionPoint, error)
	GetTrustRecord(ctx context.Context, recordID string) (model.DeviceTrustRecord, error)
	GetScanEvent(ctx context.Context, eventID string) (model.ScanEvent, error)
	CreateScanEvent(ctx context.Context, event model.ScanEvent) error
	RecordScanAccepted(ctx context.Context, recordID string, at time.Time) error
}

type tokenValidator interface {
	Validate(ctx context.Context, tokenString string) token.Result
}

// Request carries everything a device submits with one QR scan.
type Request struct {
	Token          string
	ActionPointID  string
	Fingerprint    model.DeviceFingerprint
	Location       *model.GeoPoint
	RotatingCode   string
	IdempotencyKey string
}

type Config struct {
	Cooldown       time.Duration
	IdempotencyTTL time.Duration
}

// Engine is the real-time accept/reject decision function. Every invocation
// writes exactly one ScanEvent; rejections carry the first applicable reason
// in the fixed check order so audits are reproducible.
type Engine struct {
	store    store
	tokens   tokenValidator
	guard    CooldownGuard
	idem     IdempotencyGuard
	rotating RotatingCodeVerifier
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(store store, tokens tokenValidator, guard CooldownGuard, idem IdempotencyGuard, rotating RotatingCodeVerifier, cfg Config, logger *zap.Logger) *Engine {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	return &Engine{
		store:    store,
		tokens:   tokens,
		guard:    guard,
		idem:     idem,
		rotating: rotating,
		cfg:      cfg,
		logger:   logger,
	}
}

// Validate runs the decision sequence and persists the resulting ScanEvent.
// Check order is fixed: action point, token, device continuity, presence
// (geofence or rotating code), cooldown. The first failure wins.
func (e *Engine) Validate(ctx context.Context, req Request) (model.ScanEvent, error) {
	now := time.Now().UTC()
	eventID := uuid.NewString()

	if req.IdempotencyKey != "" && e.idem != nil {
		existingID, stored, err := e.idem.Remember(ctx, req.IdempotencyKey, eventID, e.cfg.IdempotencyTTL)
		if err == nil && !stored {
			if existing, getErr := e.store.GetScanEvent(ctx, existingID); getErr == nil {
				return existing, nil
			}
		}
		// A guard error is not a reason to drop the scan; proceed without
		// at-most-once protection.
	}

	event := model.ScanEvent{
		ID:        eventID,
		DeviceID:  req.Fingerprint.DeviceID,
		ScannedAt: now,
	}
	if req.Location != nil {
		lat, lon := req.Location.Latitude, req.Location.Longitude
		event.Latitude = &lat
		event.Longitude = &lon
	}

	// 1. Action point must exist and be active.
	point, err := e.store.GetActionPoint(ctx, req.ActionPointID)
	if err != nil || !point.IsActive {
		event.ActionPointID = req.ActionPointID
		return e.reject(ctx, event, model.ReasonUnknownActionPoint)
	}
	event.ActionPointID = point.ID
	event.ActionType = string(point.ActionType)
	event.QRMode = point.QRMode

	// 2. Trust token, checked against the live record.
	result := e.tokens.Validate(ctx, req.Token)
	if !result.Valid {
		return e.reject(ctx, event, result.FailureReason)
	}
	event.UserID = result.UserID

	// 3. Device continuity: a trust token is useless on another physical
	// device.
	record, err := e.store.GetTrustRecord(ctx, result.RecordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e.reject(ctx, event, model.ReasonTokenRevoked)
		}
		// Store outage is transient, not a trust verdict.
		return e.reject(ctx, event, model.ReasonValidationUnavailable)
	}
	if req.Fingerprint.DeviceID == "" || req.Fingerprint.DeviceID != record.Fingerprint.DeviceID {
		return e.reject(ctx, event, model.ReasonDeviceMismatch)
	}
	event.DeviceValidated = true

	// 4. Physical presence: static points prove it by geofence, rotating
	// points by the time-boxed code on the QR itself.
	switch point.QRMode {
	case model.QRModeRotating:
		secret := ""
		if point.RotatingSecret != nil {
			secret = *point.RotatingSecret
		}
		if secret == "" || req.RotatingCode == "" || !e.rotating.Verify(secret, req.RotatingCode, now) {
			return e.reject(ctx, event, model.ReasonInvalidRotatingCode)
		}
	default:
		if req.Location == nil {
			return e.reject(ctx, event, model.ReasonLocationUnavailable)
		}
		if !Contains(point.Geofence, *req.Location) {
			return e.reject(ctx, event, model.ReasonOutsideGeofence)
		}
	}
	event.GeoValidated = true

	// 5. Cooldown. SetNX is atomic, so two near-simultaneous scans for the
	// same device cannot both pass.
	acquired, err := e.guard.Acquire(ctx, record.Fingerprint.DeviceID, point.ID, e.cfg.Cooldown)
	if err != nil {
		// Fail closed: without the guard we cannot rule out a replay.
		return e.reject(ctx, event, model.ReasonValidationUnavailable)
	}
	if !acquired {
		return e.reject(ctx, event, model.ReasonDuplicateScan)
	}

	// 6. Accept.
	event.ValidationResult = model.ScanAccepted
	if err := e.store.CreateScanEvent(ctx, event); err != nil {
		return event, err
	}
	if err := e.store.RecordScanAccepted(ctx, record.ID, now); err != nil {
		e.logger.Warn("scan counters not updated", zap.String("record_id", record.ID), zap.Error(err))
	}
	metrics.ScanValidations.WithLabelValues(string(model.ScanAccepted), "").Inc()
	return event, nil
}

func (e *Engine) reject(ctx context.Context, event model.ScanEvent, reason string) (model.ScanEvent, error) {
	event.ValidationResult = model.ScanRejected
	event.RejectionReason = &reason
	if event.QRMode == "" {
		event.QRMode = model.QRModeStatic
	}
	if err := e.store.CreateScanEvent(ctx, event); err != nil {
		return event, err
	}
	metrics.ScanValidations.WithLabelValues(string(model.ScanRejected), reason).Inc()
	return event, nil
}
