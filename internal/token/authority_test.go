package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"

	"campustrust/internal/model"
)

type fakeRecordStore struct {
	records map[string]model.DeviceTrustRecord
	updates int
	getErr  error
}

func (f *fakeRecordStore) GetTrustRecord(_ context.Context, recordID string) (model.DeviceTrustRecord, error) {
	if f.getErr != nil {
		return model.DeviceTrustRecord{}, f.getErr
	}
	record, ok := f.records[recordID]
	if !ok {
		return model.DeviceTrustRecord{}, pgx.ErrNoRows
	}
	return record, nil
}

func (f *fakeRecordStore) UpdateTrustStatus(_ context.Context, recordID string, status model.TrustStatus, revokedAt *time.Time, reason *string) error {
	record, ok := f.records[recordID]
	if !ok {
		return errors.New("no rows")
	}
	record.Status = status
	record.RevokedAt = revokedAt
	record.RevokeReason = reason
	f.records[recordID] = record
	f.updates++
	return nil
}

func activeRecord() model.DeviceTrustRecord {
	return model.DeviceTrustRecord{
		ID:       "rec-1",
		UserID:   "user-1",
		DeviceID: "device-1",
		Status:   model.TrustStatusActive,
	}
}

func newTestAuthority(store *fakeRecordStore) *Authority {
	return NewAuthority("test-secret", "campustrust-test", time.Hour, store)
}

func TestIssueAndValidate(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := newTestAuthority(store)

	signed, expiresAt, err := authority.Issue(activeRecord())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry must be in the future")
	}

	result := authority.Validate(context.Background(), signed)
	if !result.Valid {
		t.Fatalf("expected valid token, got %q", result.FailureReason)
	}
	if result.RecordID != "rec-1" || result.UserID != "user-1" || result.DeviceID != "device-1" {
		t.Fatalf("unexpected claims: %+v", result)
	}
}

func TestValidateExpired(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := NewAuthority("test-secret", "campustrust-test", -time.Minute, store)

	signed, _, err := authority.Issue(activeRecord())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result := authority.Validate(context.Background(), signed)
	if result.Valid {
		t.Fatalf("expired token validated")
	}
	if result.FailureReason != model.ReasonTokenExpired {
		t.Fatalf("expected token_expired, got %q", result.FailureReason)
	}
}

func TestValidateMalformed(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{}}
	authority := newTestAuthority(store)

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		result := authority.Validate(context.Background(), raw)
		if result.Valid {
			t.Fatalf("malformed token %q validated", raw)
		}
		if result.FailureReason != model.ReasonTokenMalformed {
			t.Fatalf("expected token_malformed for %q, got %q", raw, result.FailureReason)
		}
	}
}

func TestValidateWrongSecret(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	other := NewAuthority("other-secret", "campustrust-test", time.Hour, store)
	signed, _, err := other.Issue(activeRecord())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result := newTestAuthority(store).Validate(context.Background(), signed)
	if result.Valid || result.FailureReason != model.ReasonTokenMalformed {
		t.Fatalf("token signed with another secret must be malformed, got %+v", result)
	}
}

func TestValidateWrongAlgorithm(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := newTestAuthority(store)

	// alg=none tokens must never pass.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RecordID: "rec-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	result := authority.Validate(context.Background(), unsigned)
	if result.Valid || result.FailureReason != model.ReasonTokenMalformed {
		t.Fatalf("alg=none token must be malformed, got %+v", result)
	}
}

func TestValidateRevokedRecord(t *testing.T) {
	record := activeRecord()
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": record}}
	authority := newTestAuthority(store)
	signed, _, err := authority.Issue(record)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// A token that is not yet expired dies the moment the record does.
	if err := authority.Revoke(context.Background(), "rec-1", "admin_revoked"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	result := authority.Validate(context.Background(), signed)
	if result.Valid || result.FailureReason != model.ReasonTokenRevoked {
		t.Fatalf("expected token_revoked, got %+v", result)
	}

	// Superseded and reset records reject the same way.
	for _, status := range []model.TrustStatus{model.TrustStatusSuperseded, model.TrustStatusReset} {
		record.Status = status
		store.records["rec-1"] = record
		result = authority.Validate(context.Background(), signed)
		if result.Valid || result.FailureReason != model.ReasonTokenRevoked {
			t.Fatalf("status %s: expected token_revoked, got %+v", status, result)
		}
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := newTestAuthority(store)

	if err := authority.Revoke(context.Background(), "rec-1", "lost_device"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := authority.Revoke(context.Background(), "rec-1", "lost_device"); err != nil {
		t.Fatalf("second revoke must be a no-op success: %v", err)
	}
	if store.updates != 1 {
		t.Fatalf("expected a single status update, got %d", store.updates)
	}
}

func TestValidateUnknownRecord(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := newTestAuthority(store)
	signed, _, err := authority.Issue(activeRecord())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	delete(store.records, "rec-1")
	result := authority.Validate(context.Background(), signed)
	if result.Valid || result.FailureReason != model.ReasonTokenRevoked {
		t.Fatalf("token for a purged record must read revoked, got %+v", result)
	}
}

func TestValidateStoreOutage(t *testing.T) {
	store := &fakeRecordStore{records: map[string]model.DeviceTrustRecord{"rec-1": activeRecord()}}
	authority := newTestAuthority(store)
	signed, _, err := authority.Issue(activeRecord())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// The device must not read a database timeout as its binding dying:
	// a store outage is retryable, revocation is not.
	store.getErr = errors.New("timeout: connection reset")
	result := authority.Validate(context.Background(), signed)
	if result.Valid {
		t.Fatalf("validation must fail during an outage")
	}
	if result.FailureReason != model.ReasonValidationUnavailable {
		t.Fatalf("expected validation_unavailable, got %q", result.FailureReason)
	}

	store.getErr = nil
	if result := authority.Validate(context.Background(), signed); !result.Valid {
		t.Fatalf("token must validate again once the store recovers, got %+v", result)
	}
}
