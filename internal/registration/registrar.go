package registration

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"campustrust/internal/metrics"
	"campustrust/internal/model"
	"campustrust/internal/sms"
)

var (
	ErrInvalidPhoneFormat  = errors.New("invalid_phone_format")
	ErrTooManyAttempts     = errors.New("too_many_attempts")
	ErrNotFound            = errors.New("verification_not_found")
	ErrRegistrationBlocked = errors.New("registration_blocked")
)

// Indian mobile numbers: optional +91/0 prefix, ten digits starting 6-9.
var phonePattern = regexp.MustCompile(`^(\+91|0)?[6-9][0-9]{9}$`)

type store interface {
	CreateVerification(ctx context.Context, attempt model.VerificationAttempt) error
	GetVerification(ctx context.Context, verificationID string) (model.VerificationAttempt, error)
	IncrementVerificationTries(ctx context.Context, verificationID string) (int, error)
	FailVerification(ctx context.Context, verificationID string, at time.Time) error
	CountVerificationsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	GetTrustRecord(ctx context.Context, recordID string) (model.DeviceTrustRecord, error)
	GetLatestTrustRecordForUser(ctx context.Context, userID string) (model.DeviceTrustRecord, error)
	ActivateRegistration(ctx context.Context, verificationID string, record model.DeviceTrustRecord, at time.Time) (bool, error)
}

type tokenIssuer interface {
	Issue(record model.DeviceTrustRecord) (string, time.Time, error)
}

type Config struct {
	VerificationTTL time.Duration
	MaxTries        int
	StartsPerHour   int
	SMSBodyPrefix   string
	DevMode         bool
}

// Registrar runs the phone-ownership proof that binds a user to one device.
type Registrar struct {
	store     store
	authority tokenIssuer
	sender    sms.Sender
	cfg       Config
	logger    *zap.Logger
}

func NewRegistrar(store store, authority tokenIssuer, sender sms.Sender, cfg Config, logger *zap.Logger) *Registrar {
	return &Registrar{store: store, authority: authority, sender: sender, cfg: cfg, logger: logger}
}

type StartResult struct {
	VerificationID   string
	CodeTarget       string
	SMSBodyTemplate  string
	ExpiresInSeconds int
	DevCode          string
}

// Start validates the phone number, creates a pending VerificationAttempt
// and hands the code to the SMS sender. Delivery failures are the caller's
// to retry; the attempt stays open until it expires.
func (r *Registrar) Start(ctx context.Context, userID, phoneNumber string, fingerprint model.DeviceFingerprint) (StartResult, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !phonePattern.MatchString(phoneNumber) {
		return StartResult{}, ErrInvalidPhoneFormat
	}

	blocked, err := r.registrationBlocked(ctx, userID)
	if err != nil {
		return StartResult{}, err
	}
	if blocked {
		return StartResult{}, ErrRegistrationBlocked
	}

	now := time.Now().UTC()
	recent, err := r.store.CountVerificationsSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return StartResult{}, err
	}
	if recent >= int64(r.cfg.StartsPerHour) {
		return StartResult{}, ErrTooManyAttempts
	}

	code, err := numericCode(6)
	if err != nil {
		return StartResult{}, err
	}

	attempt := model.VerificationAttempt{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Fingerprint: fingerprint,
		CodeHash:    HashCode(code),
		ExpiresAt:   now.Add(r.cfg.VerificationTTL),
		CreatedAt:   now,
	}
	if err := r.store.CreateVerification(ctx, attempt); err != nil {
		return StartResult{}, err
	}

	body := fmt.Sprintf("%s %s", r.cfg.SMSBodyPrefix, code)
	if err := r.sender.SendSMS(ctx, phoneNumber, body); err != nil {
		r.logger.Warn("verification sms not delivered",
			zap.String("verification_id", attempt.ID), zap.Error(err))
	}

	metrics.Registrations.WithLabelValues("started").Inc()
	result := StartResult{
		VerificationID:   attempt.ID,
		CodeTarget:       maskPhone(phoneNumber),
		SMSBodyTemplate:  r.cfg.SMSBodyPrefix + " {code}",
		ExpiresInSeconds: int(r.cfg.VerificationTTL.Seconds()),
	}
	if r.cfg.DevMode {
		result.DevCode = code
	}
	return result, nil
}

type Status struct {
	State          string // pending | active | failed
	Token          string
	TokenExpiresAt time.Time
}

// SubmitCode consumes the attempt on a correct code, supersedes any prior
// active binding and mints a trust token. The whole transition runs in one
// transaction per user. Attempts belonging to another user read as not
// found, so verification ids leak nothing.
func (r *Registrar) SubmitCode(ctx context.Context, userID, verificationID, code string) (Status, error) {
	attempt, err := r.store.GetVerification(ctx, verificationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrNotFound
		}
		return Status{}, err
	}
	if attempt.UserID != userID {
		return Status{}, ErrNotFound
	}

	now := time.Now().UTC()
	if attempt.ConsumedAt != nil || attempt.FailedAt != nil || now.After(attempt.ExpiresAt) {
		return r.CheckStatus(ctx, userID, verificationID)
	}

	if HashCode(strings.TrimSpace(code)) != attempt.CodeHash {
		tries, err := r.store.IncrementVerificationTries(ctx, verificationID)
		if err != nil {
			return Status{}, err
		}
		if tries >= r.cfg.MaxTries {
			if err := r.store.FailVerification(ctx, verificationID, now); err != nil {
				return Status{}, err
			}
			metrics.Registrations.WithLabelValues("failed").Inc()
			return Status{State: "failed"}, nil
		}
		return Status{State: "pending"}, nil
	}

	// A revocation landing mid-verification wins; the code alone must not
	// reopen a binding an administrator just closed.
	blocked, err := r.registrationBlocked(ctx, attempt.UserID)
	if err != nil {
		return Status{}, err
	}
	if blocked {
		return Status{}, ErrRegistrationBlocked
	}

	record := model.DeviceTrustRecord{
		ID:           uuid.NewString(),
		UserID:       attempt.UserID,
		DeviceID:     attempt.Fingerprint.DeviceID,
		Fingerprint:  attempt.Fingerprint,
		Status:       model.TrustStatusActive,
		RegisteredAt: now,
	}

	// A second device supersedes the first; history is kept.
	activated, err := r.store.ActivateRegistration(ctx, verificationID, record, now)
	if err != nil {
		return Status{}, err
	}
	if !activated {
		// Lost the consume race; report whatever state won.
		return r.CheckStatus(ctx, userID, verificationID)
	}

	signed, expiresAt, err := r.authority.Issue(record)
	if err != nil {
		return Status{}, err
	}
	metrics.Registrations.WithLabelValues("activated").Inc()
	return Status{State: "active", Token: signed, TokenExpiresAt: expiresAt}, nil
}

// CheckStatus is idempotent: terminal states re-answer identically on every
// call. An activated verification re-mints a token for the same record, so
// a polling client that missed the first response still converges. Only the
// attempt's owner may poll it; anyone else sees not found.
func (r *Registrar) CheckStatus(ctx context.Context, userID, verificationID string) (Status, error) {
	attempt, err := r.store.GetVerification(ctx, verificationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrNotFound
		}
		return Status{}, err
	}
	if attempt.UserID != userID {
		return Status{}, ErrNotFound
	}

	if attempt.ConsumedAt != nil && attempt.RecordID != nil {
		record, err := r.store.GetTrustRecord(ctx, *attempt.RecordID)
		if err != nil {
			return Status{}, err
		}
		if record.Status != model.TrustStatusActive {
			return Status{State: "failed"}, nil
		}
		signed, expiresAt, err := r.authority.Issue(record)
		if err != nil {
			return Status{}, err
		}
		return Status{State: "active", Token: signed, TokenExpiresAt: expiresAt}, nil
	}
	if attempt.FailedAt != nil || time.Now().UTC().After(attempt.ExpiresAt) {
		return Status{State: "failed"}, nil
	}
	return Status{State: "pending"}, nil
}

// registrationBlocked reports whether the user's most recent binding was
// revoked by an administrator. Such a user stays locked out until an
// explicit reset; a user-requested unbind from the device does not block.
func (r *Registrar) registrationBlocked(ctx context.Context, userID string) (bool, error) {
	latest, err := r.store.GetLatestTrustRecordForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if latest.Status != model.TrustStatusRevoked {
		return false, nil
	}
	if latest.RevokeReason != nil && *latest.RevokeReason == model.RevokeReasonUserRequested {
		return false, nil
	}
	return true, nil
}

func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func numericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, value), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
