package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"campustrust/internal/authz"
	"campustrust/internal/model"
)

type fakeStore struct {
	records map[string]model.DeviceTrustRecord
	resets  map[string][]time.Time
	updates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]model.DeviceTrustRecord{},
		resets:  map[string][]time.Time{},
	}
}

func (f *fakeStore) GetTrustRecord(_ context.Context, recordID string) (model.DeviceTrustRecord, error) {
	record, ok := f.records[recordID]
	if !ok {
		return model.DeviceTrustRecord{}, pgx.ErrNoRows
	}
	return record, nil
}

func (f *fakeStore) UpdateTrustStatus(_ context.Context, recordID string, status model.TrustStatus, revokedAt *time.Time, reason *string) error {
	record, ok := f.records[recordID]
	if !ok {
		return pgx.ErrNoRows
	}
	record.Status = status
	record.RevokedAt = revokedAt
	record.RevokeReason = reason
	f.records[recordID] = record
	f.updates++
	return nil
}

func (f *fakeStore) ResetTrustRecordsForUser(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	var affected int64
	for id, record := range f.records {
		if record.UserID == userID && (record.Status == model.TrustStatusActive || record.Status == model.TrustStatusPending) {
			record.Status = model.TrustStatusReset
			record.RevokeReason = &reason
			record.LastResetAt = &at
			f.records[id] = record
			affected++
		}
	}
	f.resets[userID] = append(f.resets[userID], at)
	return affected, nil
}

func (f *fakeStore) CountResetsSince(_ context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	for _, at := range f.resets[userID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

type denyAll struct{}

func (denyAll) HasCapability(context.Context, string, string) (bool, error) {
	return false, nil
}

func testService(store *fakeStore, authorizer authz.Authorizer) *Service {
	return NewService(store, authorizer, Config{
		MaxResetsPerWindow: 3,
		ResetWindow:        30 * 24 * time.Hour,
	}, zap.NewNop())
}

func activeRecord(id, userID string) model.DeviceTrustRecord {
	return model.DeviceTrustRecord{ID: id, UserID: userID, DeviceID: "device-" + id, Status: model.TrustStatusActive}
}

func TestRevokeDevice(t *testing.T) {
	store := newFakeStore()
	store.records["rec-1"] = activeRecord("rec-1", "user-1")
	service := testService(store, authz.AllowAll{})

	if err := service.RevokeDevice(context.Background(), "op-1", "rec-1", "lost_device"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	record := store.records["rec-1"]
	if record.Status != model.TrustStatusRevoked {
		t.Fatalf("expected revoked, got %s", record.Status)
	}
	if record.RevokeReason == nil || *record.RevokeReason != "lost_device" {
		t.Fatalf("reason not recorded: %v", record.RevokeReason)
	}
}

func TestRevokeDeviceIdempotent(t *testing.T) {
	store := newFakeStore()
	store.records["rec-1"] = activeRecord("rec-1", "user-1")
	service := testService(store, authz.AllowAll{})

	if err := service.RevokeDevice(context.Background(), "op-1", "rec-1", "lost_device"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := service.RevokeDevice(context.Background(), "op-1", "rec-1", "lost_device"); err != nil {
		t.Fatalf("second revoke must succeed: %v", err)
	}
	if store.updates != 1 {
		t.Fatalf("expected a single update, got %d", store.updates)
	}
}

func TestRevokeDeviceUnknownRecord(t *testing.T) {
	service := testService(newFakeStore(), authz.AllowAll{})
	err := service.RevokeDevice(context.Background(), "op-1", "nope", "lost_device")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRevokeDeviceForbidden(t *testing.T) {
	store := newFakeStore()
	store.records["rec-1"] = activeRecord("rec-1", "user-1")
	service := testService(store, denyAll{})

	err := service.RevokeDevice(context.Background(), "op-1", "rec-1", "lost_device")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if store.records["rec-1"].Status != model.TrustStatusActive {
		t.Fatalf("record must be untouched on authz failure")
	}
}

func TestResetForUser(t *testing.T) {
	store := newFakeStore()
	store.records["rec-1"] = activeRecord("rec-1", "user-1")
	store.records["rec-2"] = activeRecord("rec-2", "user-2")
	service := testService(store, authz.AllowAll{})

	if err := service.ResetForUser(context.Background(), "op-1", "user-1", "new_phone"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if store.records["rec-1"].Status != model.TrustStatusReset {
		t.Fatalf("user-1 record should be reset")
	}
	if store.records["rec-2"].Status != model.TrustStatusActive {
		t.Fatalf("other users must be untouched")
	}
}

func TestResetForUserRateLimited(t *testing.T) {
	store := newFakeStore()
	service := testService(store, authz.AllowAll{})

	for i := 0; i < 3; i++ {
		if err := service.ResetForUser(context.Background(), "op-1", "user-1", "new_phone"); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}
	err := service.ResetForUser(context.Background(), "op-1", "user-1", "new_phone")
	if !errors.Is(err, ErrResetRateLimited) {
		t.Fatalf("expected ErrResetRateLimited, got %v", err)
	}

	// Old resets age out of the window.
	store.resets["user-2"] = []time.Time{time.Now().UTC().Add(-31 * 24 * time.Hour)}
	if err := service.ResetForUser(context.Background(), "op-1", "user-2", "new_phone"); err != nil {
		t.Fatalf("aged-out reset should pass: %v", err)
	}
}
