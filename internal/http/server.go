package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campustrust/internal/anomaly"
	"campustrust/internal/config"
	"campustrust/internal/model"
	"campustrust/internal/registration"
	"campustrust/internal/repository"
	"campustrust/internal/revocation"
	"campustrust/internal/scan"
	"campustrust/internal/token"
)

type Server struct {
	cfg         config.Config
	store       *repository.Store
	registrar   *registration.Registrar
	engine      *scan.Engine
	authority   *token.Authority
	revocations *revocation.Service
	reporter    *anomaly.Reporter
	logger      *zap.Logger
}

func NewServer(cfg config.Config, store *repository.Store, registrar *registration.Registrar, engine *scan.Engine, authority *token.Authority, revocations *revocation.Service, reporter *anomaly.Reporter, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		registrar:   registrar,
		engine:      engine,
		authority:   authority,
		revocations: revocations,
		reporter:    reporter,
		logger:      logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Post("/device/register", s.handleStartRegistration)
	r.With(s.authMiddleware).Get("/device/register/{verificationId}", s.handleRegistrationStatus)
	r.With(s.authMiddleware).Post("/device/register/{verificationId}/code", s.handleSubmitCode)
	r.Delete("/device", s.handleRevokeOwnDevice)

	r.Post("/scan", s.handleScan)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireAdminOrDev)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/stats", s.handleDeviceStats)
		r.Get("/devices/flagged", s.handleFlaggedDevices)
		r.Post("/devices/{recordId}/revoke", s.handleRevokeDevice)
		r.Post("/users/{userId}/devices/reset", s.handleResetUserDevices)
		r.Get("/scans", s.handleListScans)
		r.Get("/scans/summary", s.handleScanSummary)
		r.Get("/scans/anomalies", s.handleScanAnomalies)
		r.Post("/action-points", s.handleCreateActionPoint)
		r.Get("/action-points", s.handleListActionPoints)
		r.Get("/action-points/{pointId}", s.handleGetActionPoint)
		r.Put("/action-points/{pointId}", s.handleUpdateActionPoint)
	})

	return r
}

// Auth

type userClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims := &userClaims{}
		parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithIssuer(s.cfg.JWTIssuer))
		if err != nil || !parsed.Valid || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *userClaims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*userClaims)
	return claims
}

func (s *Server) requireAdminOrDev(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || (claims.Role != "admin" && claims.Role != "dev") {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Registration

type startRegistrationRequest struct {
	PhoneNumber string                  `json:"phone_number"`
	Fingerprint model.DeviceFingerprint `json:"fingerprint"`
}

type startRegistrationResponse struct {
	VerificationID   string `json:"verification_id"`
	SMSTargetNumber  string `json:"sms_target_number"`
	SMSBodyTemplate  string `json:"sms_body_template"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DevCode          string `json:"dev_code,omitempty"`
}

func (s *Server) handleStartRegistration(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req startRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if req.Fingerprint.DeviceID == "" || !model.ValidPlatform(string(req.Fingerprint.Platform)) {
		writeError(w, http.StatusBadRequest, "invalid_fingerprint")
		return
	}

	result, err := s.registrar.Start(r.Context(), claims.Subject, req.PhoneNumber, req.Fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrInvalidPhoneFormat):
			writeError(w, http.StatusBadRequest, "invalid_phone_format")
		case errors.Is(err, registration.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, "too_many_attempts")
		case errors.Is(err, registration.ErrRegistrationBlocked):
			writeError(w, http.StatusForbidden, "registration_blocked")
		default:
			s.logger.Error("start registration", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, startRegistrationResponse{
		VerificationID:   result.VerificationID,
		SMSTargetNumber:  result.CodeTarget,
		SMSBodyTemplate:  result.SMSBodyTemplate,
		ExpiresInSeconds: result.ExpiresInSeconds,
		DevCode:          result.DevCode,
	})
}

type registrationStatusResponse struct {
	State          string `json:"state"`
	TrustToken     string `json:"trust_token,omitempty"`
	TokenExpiresAt string `json:"token_expires_at,omitempty"`
}

func (s *Server) handleRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	status, err := s.registrar.CheckStatus(r.Context(), claims.Subject, chi.URLParam(r, "verificationId"))
	s.writeRegistrationStatus(w, status, err)
}

type submitCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req submitCodeRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	status, err := s.registrar.SubmitCode(r.Context(), claims.Subject, chi.URLParam(r, "verificationId"), req.Code)
	s.writeRegistrationStatus(w, status, err)
}

func (s *Server) writeRegistrationStatus(w http.ResponseWriter, status registration.Status, err error) {
	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			writeError(w, http.StatusNotFound, "verification_not_found")
			return
		}
		if errors.Is(err, registration.ErrRegistrationBlocked) {
			writeError(w, http.StatusForbidden, "registration_blocked")
			return
		}
		s.logger.Error("registration status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	resp := registrationStatusResponse{State: status.State, TrustToken: status.Token}
	if !status.TokenExpiresAt.IsZero() {
		resp.TokenExpiresAt = status.TokenExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevokeOwnDevice lets a device retire its own binding. It
// authenticates with the trust token itself rather than a user JWT, so a
// lost-password user can still unbind from the device in hand.
func (s *Server) handleRevokeOwnDevice(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	result := s.authority.Validate(r.Context(), raw)
	if !result.Valid {
		if result.FailureReason == model.ReasonValidationUnavailable {
			writeError(w, http.StatusServiceUnavailable, result.FailureReason)
			return
		}
		writeError(w, http.StatusUnauthorized, result.FailureReason)
		return
	}
	if err := s.authority.Revoke(r.Context(), result.RecordID, model.RevokeReasonUserRequested); err != nil {
		s.logger.Error("self revoke", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// Scan

type scanRequest struct {
	TrustToken    string                  `json:"trust_token"`
	ActionPointID string                  `json:"action_point_id"`
	Fingerprint   model.DeviceFingerprint `json:"fingerprint"`
	Location      *model.GeoPoint         `json:"location,omitempty"`
	RotatingCode  string                  `json:"rotating_code,omitempty"`
}

type scanResponse struct {
	EventID         string `json:"event_id"`
	Result          string `json:"result"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
	ScannedAt       string `json:"scanned_at"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if req.ActionPointID == "" {
		writeError(w, http.StatusBadRequest, "missing_action_point")
		return
	}

	event, err := s.engine.Validate(r.Context(), scan.Request{
		Token:          req.TrustToken,
		ActionPointID:  req.ActionPointID,
		Fingerprint:    req.Fingerprint,
		Location:       req.Location,
		RotatingCode:   req.RotatingCode,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.logger.Error("scan validation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := scanResponse{
		EventID:    event.ID,
		Result:     string(event.ValidationResult),
		ActionType: event.ActionType,
		ScannedAt:  event.ScannedAt.UTC().Format(time.RFC3339),
	}
	if event.RejectionReason != nil {
		resp.RejectionReason = *event.RejectionReason
	}
	writeJSON(w, http.StatusOK, resp)
}

// Admin: devices

type trustRecordResponse struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"user_id"`
	DeviceID     string                  `json:"device_id"`
	Fingerprint  model.DeviceFingerprint `json:"fingerprint"`
	Status       string                  `json:"status"`
	RegisteredAt string                  `json:"registered_at"`
	RevokedAt    *string                 `json:"revoked_at,omitempty"`
	RevokeReason *string                 `json:"revoke_reason,omitempty"`
	ResetCount   int                     `json:"reset_count"`
	LastActiveAt *string                 `json:"last_active_at,omitempty"`
	TotalScans   int64                   `json:"total_scans"`
}

func toTrustRecordResponse(record model.DeviceTrustRecord) trustRecordResponse {
	resp := trustRecordResponse{
		ID:           record.ID,
		UserID:       record.UserID,
		DeviceID:     record.DeviceID,
		Fingerprint:  record.Fingerprint,
		Status:       string(record.Status),
		RegisteredAt: record.RegisteredAt.UTC().Format(time.RFC3339),
		RevokeReason: record.RevokeReason,
		ResetCount:   record.ResetCount,
		TotalScans:   record.TotalScans,
	}
	resp.RevokedAt = formatTimePtr(record.RevokedAt)
	resp.LastActiveAt = formatTimePtr(record.LastActiveAt)
	return resp
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePage(r)
	records, err := s.store.ListTrustRecords(r.Context(), repository.ListTrustRecordsParams{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		s.logger.Error("list devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]trustRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toTrustRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out, "page": page, "page_size": pageSize})
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetDeviceStats(r.Context())
	if err != nil {
		s.logger.Error("device stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_registered":     stats.TotalRegistered,
		"active":               stats.ActiveCount,
		"revoked":              stats.RevokedCount,
		"registered_this_week": stats.RegisteredThisWeek,
		"platforms":            stats.PlatformCounts,
	})
}

func (s *Server) handleFlaggedDevices(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r, 7)
	flagged, err := s.reporter.FlaggedDevices(r.Context(), days, parseLimit(r, 50))
	if err != nil {
		s.logger.Error("flagged devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	type flaggedResponse struct {
		Device        trustRecordResponse `json:"device"`
		RejectedScans int64               `json:"rejected_scans"`
	}
	out := make([]flaggedResponse, 0, len(flagged))
	for _, f := range flagged {
		out = append(out, flaggedResponse{Device: toTrustRecordResponse(f.Record), RejectedScans: f.RejectedScans})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out, "period_days": days})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "admin_revoked"
	}
	err := s.revocations.RevokeDevice(r.Context(), claims.Subject, chi.URLParam(r, "recordId"), req.Reason)
	s.writeRevocationResult(w, err, "revoked")
}

func (s *Server) handleResetUserDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "admin_reset"
	}
	err := s.revocations.ResetForUser(r.Context(), claims.Subject, chi.URLParam(r, "userId"), req.Reason)
	s.writeRevocationResult(w, err, "reset")
}

func (s *Server) writeRevocationResult(w http.ResponseWriter, err error, okStatus string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": okStatus})
	case errors.Is(err, revocation.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, revocation.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record_not_found")
	case errors.Is(err, revocation.ErrResetRateLimited):
		writeError(w, http.StatusTooManyRequests, "reset_rate_limited")
	default:
		s.logger.Error("revocation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// Admin: scans and reports

type scanEventResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	DeviceID        string  `json:"device_id"`
	ActionPointID   string  `json:"action_point_id"`
	ActionType      string  `json:"action_type"`
	QRMode          string  `json:"qr_mode"`
	ScannedAt       string  `json:"scanned_at"`
	GeoValidated    bool    `json:"geo_validated"`
	DeviceValidated bool    `json:"device_validated"`
	Result          string  `json:"result"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePage(r)
	params := repository.ListScanEventsParams{
		UserID:        r.URL.Query().Get("user_id"),
		DeviceID:      r.URL.Query().Get("device_id"),
		ActionPointID: r.URL.Query().Get("action_point_id"),
		Result:        r.URL.Query().Get("result"),
		Limit:         pageSize,
		Offset:        (page - 1) * pageSize,
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = &since
	}
	events, err := s.store.ListScanEvents(r.Context(), params)
	if err != nil {
		s.logger.Error("list scans", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]scanEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, scanEventResponse{
			ID:              event.ID,
			UserID:          event.UserID,
			DeviceID:        event.DeviceID,
			ActionPointID:   event.ActionPointID,
			ActionType:      event.ActionType,
			QRMode:          string(event.QRMode),
			ScannedAt:       event.ScannedAt.UTC().Format(time.RFC3339),
			GeoValidated:    event.GeoValidated,
			DeviceValidated: event.DeviceValidated,
			Result:          string(event.ValidationResult),
			RejectionReason: event.RejectionReason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scans": out, "page": page, "page_size": pageSize})
}

func (s *Server) handleScanSummary(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r, 7)
	summary, err := s.reporter.Summarize(r.Context(), days)
	if err != nil {
		s.logger.Error("scan summary", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary, "period_days": days})
}

func (s *Server) handleScanAnomalies(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r, 7)
	anomalies, err := s.reporter.DetectAnomalies(r.Context(), days)
	if err != nil {
		s.logger.Error("scan anomalies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": anomalies, "period_days": days})
}

// Admin: action points

type actionPointRequest struct {
	Name           string         `json:"name"`
	ActionType     string         `json:"action_type"`
	LocationCode   string         `json:"location_code"`
	QRMode         string         `json:"qr_mode"`
	Geofence       model.Geofence `json:"geofence"`
	RotatingSecret *string        `json:"rotating_secret,omitempty"`
	IsActive       *bool          `json:"is_active,omitempty"`
}

type actionPointResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ActionType   string         `json:"action_type"`
	LocationCode string         `json:"location_code"`
	QRMode       string         `json:"qr_mode"`
	Geofence     model.Geofence `json:"geofence"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func toActionPointResponse(point model.ActionPoint) actionPointResponse {
	return actionPointResponse{
		ID:           point.ID,
		Name:         point.Name,
		ActionType:   string(point.ActionType),
		LocationCode: point.LocationCode,
		QRMode:       string(point.QRMode),
		Geofence:     point.Geofence,
		IsActive:     point.IsActive,
		CreatedAt:    point.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    point.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateActionPoint(w http.ResponseWriter, r *http.Request) {
	var req actionPointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if code := validateActionPoint(req); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	now := time.Now().UTC()
	point := model.ActionPoint{
		ID:             uuid.NewString(),
		Name:           req.Name,
		ActionType:     model.ActionType(req.ActionType),
		LocationCode:   req.LocationCode,
		QRMode:         model.QRMode(req.QRMode),
		Geofence:       req.Geofence,
		RotatingSecret: req.RotatingSecret,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.IsActive != nil {
		point.IsActive = *req.IsActive
	}
	if err := s.store.CreateActionPoint(r.Context(), point); err != nil {
		s.logger.Error("create action point", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusCreated, toActionPointResponse(point))
}

func (s *Server) handleGetActionPoint(w http.ResponseWriter, r *http.Request) {
	point, err := s.store.GetActionPoint(r.Context(), chi.URLParam(r, "pointId"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "action_point_not_found")
			return
		}
		s.logger.Error("get action point", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, toActionPointResponse(point))
}

func (s *Server) handleListActionPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.ListActionPoints(r.Context(), parseLimit(r, 200))
	if err != nil {
		s.logger.Error("list action points", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]actionPointResponse, 0, len(points))
	for _, point := range points {
		out = append(out, toActionPointResponse(point))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"action_points": out})
}

func (s *Server) handleUpdateActionPoint(w http.ResponseWriter, r *http.Request) {
	var req actionPointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if code := validateActionPoint(req); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	pointID := chi.URLParam(r, "pointId")
	existing, err := s.store.GetActionPoint(r.Context(), pointID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "action_point_not_found")
			return
		}
		s.logger.Error("update action point", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	existing.Name = req.Name
	existing.ActionType = model.ActionType(req.ActionType)
	existing.LocationCode = req.LocationCode
	existing.QRMode = model.QRMode(req.QRMode)
	existing.Geofence = req.Geofence
	existing.RotatingSecret = req.RotatingSecret
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	existing.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateActionPoint(r.Context(), existing); err != nil {
		s.logger.Error("update action point", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, toActionPointResponse(existing))
}

func validateActionPoint(req actionPointRequest) string {
	if req.Name == "" {
		return "missing_name"
	}
	if !model.ValidActionType(req.ActionType) {
		return "invalid_action_type"
	}
	if !model.ValidQRMode(req.QRMode) {
		return "invalid_qr_mode"
	}
	if model.QRMode(req.QRMode) == model.QRModeRotating && (req.RotatingSecret == nil || *req.RotatingSecret == "") {
		return "missing_rotating_secret"
	}
	if model.QRMode(req.QRMode) == model.QRModeStatic && req.Geofence.RadiusMeters <= 0 && len(req.Geofence.Polygon) < 3 {
		return "invalid_geofence"
	}
	return ""
}

// Helpers

var errEmptyBody = errors.New("empty body")

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func parsePage(r *http.Request) (int32, int32) {
	page := int32(1)
	pageSize := int32(50)
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = int32(parsed)
		}
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			pageSize = int32(parsed)
		}
	}
	return page, pageSize
}

func parseLimit(r *http.Request, fallback int32) int32 {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return int32(parsed)
		}
	}
	return fallback
}

func parseDays(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 90 {
			return parsed
		}
	}
	return fallback
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
