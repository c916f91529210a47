package model

import "time"

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// DeviceFingerprint is the identity snapshot a device reports at registration
// and again on every scan. Snapshots are never mutated, only superseded.
type DeviceFingerprint struct {
	Platform     Platform `json:"platform"`
	DeviceID     string   `json:"device_id"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	OSVersion    string   `json:"os_version"`
	AppVersion   string   `json:"app_version"`
	ScreenWidth  int      `json:"screen_width"`
	ScreenHeight int      `json:"screen_height"`
	RAMMb        int      `json:"ram_mb"`
}

type TrustStatus string

const (
	TrustStatusPending    TrustStatus = "pending"
	TrustStatusActive     TrustStatus = "active"
	TrustStatusRevoked    TrustStatus = "revoked"
	TrustStatusSuperseded TrustStatus = "superseded"
	TrustStatusReset      TrustStatus = "reset"
)

// RevokeReasonUserRequested marks a revocation the user triggered from the
// device itself. Administrative revocations block re-registration until an
// explicit reset; a user-requested unbind does not.
const RevokeReasonUserRequested = "user_requested"

// DeviceTrustRecord binds a user to one physical device. At most one record
// per user is active; prior records are superseded, never deleted.
type DeviceTrustRecord struct {
	ID           string
	UserID       string
	DeviceID     string
	Fingerprint  DeviceFingerprint
	Status       TrustStatus
	RegisteredAt time.Time
	RevokedAt    *time.Time
	RevokeReason *string
	ResetCount   int
	LastResetAt  *time.Time
	LastActiveAt *time.Time
	TotalScans   int64
}

// VerificationAttempt is the ephemeral phone-ownership proof. The code hash
// is consumed at most once and only before ExpiresAt.
type VerificationAttempt struct {
	ID          string
	UserID      string
	PhoneNumber string
	Fingerprint DeviceFingerprint
	CodeHash    string
	Tries       int
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	FailedAt    *time.Time
	RecordID    *string
	CreatedAt   time.Time
}

type ScanResult string

const (
	ScanAccepted ScanResult = "accepted"
	ScanRejected ScanResult = "rejected"
)

// Stable rejection reason codes. Dashboards and tests assert on these
// exact strings; do not reword them.
const (
	ReasonUnknownActionPoint    = "unknown_action_point"
	ReasonTokenExpired          = "token_expired"
	ReasonTokenRevoked          = "token_revoked"
	ReasonTokenMalformed        = "token_malformed"
	ReasonDeviceMismatch        = "device_mismatch"
	ReasonOutsideGeofence       = "outside_geofence"
	ReasonLocationUnavailable   = "location_unavailable"
	ReasonInvalidRotatingCode   = "invalid_rotating_code"
	ReasonDuplicateScan         = "duplicate_scan"
	ReasonValidationUnavailable = "validation_unavailable"
)

// ScanEvent is the system of record for every physical scan attempt.
// Immutable once written.
type ScanEvent struct {
	ID               string
	UserID           string
	DeviceID         string
	ActionPointID    string
	ActionType       string
	QRMode           QRMode
	ScannedAt        time.Time
	Latitude         *float64
	Longitude        *float64
	GeoValidated     bool
	DeviceValidated  bool
	ValidationResult ScanResult
	RejectionReason  *string
}

type QRMode string

const (
	QRModeStatic   QRMode = "static"
	QRModeRotating QRMode = "rotating"
)

type ActionType string

const (
	ActionMess       ActionType = "mess"
	ActionLibrary    ActionType = "library"
	ActionAttendance ActionType = "attendance"
	ActionHostel     ActionType = "hostel"
	ActionLab        ActionType = "lab"
	ActionExamHall   ActionType = "exam_hall"
	ActionParking    ActionType = "parking"
	ActionEvent      ActionType = "event"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Geofence is a circle (center + radius) or, when Polygon is set, an
// arbitrary closed boundary that takes precedence over the circle.
type Geofence struct {
	Center       GeoPoint   `json:"center"`
	RadiusMeters float64    `json:"radius_m"`
	Polygon      []GeoPoint `json:"polygon,omitempty"`
}

// ActionPoint is administrator-managed reference data for a physical
// scan location.
type ActionPoint struct {
	ID             string
	Name           string
	ActionType     ActionType
	LocationCode   string
	QRMode         QRMode
	Geofence       Geofence
	RotatingSecret *string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func ValidPlatform(value string) bool {
	switch Platform(value) {
	case PlatformAndroid, PlatformIOS:
		return true
	default:
		return false
	}
}

func ValidActionType(value string) bool {
	switch ActionType(value) {
	case ActionMess, ActionLibrary, ActionAttendance, ActionHostel,
		ActionLab, ActionExamHall, ActionParking, ActionEvent:
		return true
	default:
		return false
	}
}

func ValidQRMode(value string) bool {
	switch QRMode(value) {
	case QRModeStatic, QRModeRotating:
		return true
	default:
		return false
	}
}
