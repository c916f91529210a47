package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"

	"campustrust/internal/model"
)

// Claims binds a trust token to one DeviceTrustRecord. The server keeps no
// copy of issued tokens; only the signing secret and the record linkage.
type Claims struct {
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Result is the outcome of a validation. FailureReason is one of the stable
// model.ReasonToken* codes; malformed input never panics or errors out.
type Result struct {
	Valid         bool
	RecordID      string
	UserID        string
	DeviceID      string
	FailureReason string
}

type recordStore interface {
	GetTrustRecord(ctx context.Context, recordID string) (model.DeviceTrustRecord, error)
	UpdateTrustStatus(ctx context.Context, recordID string, status model.TrustStatus, revokedAt *time.Time, reason *string) error
}

// Authority issues and validates device trust tokens and owns the trust
// record status transitions tied to them.
type Authority struct {
	secret []byte
	issuer string
	ttl    time.Duration
	store  recordStore
}

func NewAuthority(secret, issuer string, ttl time.Duration, store recordStore) *Authority {
	return &Authority{secret: []byte(secret), issuer: issuer, ttl: ttl, store: store}
}

func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Issue signs a token bound to the record. Expiry is embedded, but revocation
// is always re-checked against the live record on validation.
func (a *Authority) Issue(record model.DeviceTrustRecord) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		RecordID: record.ID,
		UserID:   record.UserID,
		DeviceID: record.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   record.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks signature and expiry, then the linked record's live status.
// A revoked record rejects the token even if its embedded expiry has not
// elapsed, so a captured token dies the moment an administrator acts.
func (a *Authority) Validate(ctx context.Context, tokenString string) Result {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Result{FailureReason: model.ReasonTokenExpired}
		}
		return Result{FailureReason: model.ReasonTokenMalformed}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.RecordID == "" {
		return Result{FailureReason: model.ReasonTokenMalformed}
	}

	record, err := a.store.GetTrustRecord(ctx, claims.RecordID)
	if err != nil {
		// Only a missing record condemns the token. A store outage is a
		// transient failure, not a security verdict; the caller may retry.
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{FailureReason: model.ReasonTokenRevoked}
		}
		return Result{FailureReason: model.ReasonValidationUnavailable}
	}
	if record.Status != model.TrustStatusActive {
		return Result{FailureReason: model.ReasonTokenRevoked}
	}

	return Result{
		Valid:    true,
		RecordID: claims.RecordID,
		UserID:   claims.UserID,
		DeviceID: claims.DeviceID,
	}
}

// Revoke marks the record revoked. Revoking an already-revoked record is a
// no-op success.
func (a *Authority) Revoke(ctx context.Context, recordID, reason string) error {
	record, err := a.store.GetTrustRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Status == model.TrustStatusRevoked {
		return nil
	}
	now := time.Now().UTC()
	return a.store.UpdateTrustStatus(ctx, recordID, model.TrustStatusRevoked, &now, &reason)
}
