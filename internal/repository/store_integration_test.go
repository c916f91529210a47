package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"campustrust/internal/model"
)

// These tests exercise the SQL layer against a live database with the
// migrations applied. They skip unless INTEGRATION_TESTS=1 and
// TEST_DATABASE_URL point at a disposable instance.

func testStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TEST_DATABASE_URL to run")
	}
	pool, err := NewPool(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func testRecord(userID string) model.DeviceTrustRecord {
	deviceID := uuid.NewString()
	return model.DeviceTrustRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		DeviceID: deviceID,
		Fingerprint: model.DeviceFingerprint{
			Platform: model.PlatformAndroid,
			DeviceID: deviceID,
			Model:    "Pixel 7",
		},
		Status:       model.TrustStatusActive,
		RegisteredAt: time.Now().UTC(),
	}
}

func TestTrustRecordLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	record := testRecord(userID)
	if err := store.CreateTrustRecord(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := store.GetTrustRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Fingerprint.DeviceID != record.DeviceID || loaded.Status != model.TrustStatusActive {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	active, err := store.GetActiveTrustRecordForUser(ctx, userID)
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if active.ID != record.ID {
		t.Fatalf("expected %s, got %s", record.ID, active.ID)
	}

	now := time.Now().UTC()
	reason := "lost_device"
	if err := store.UpdateTrustStatus(ctx, record.ID, model.TrustStatusRevoked, &now, &reason); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	loaded, err = store.GetTrustRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("get after revoke: %v", err)
	}
	if loaded.Status != model.TrustStatusRevoked || loaded.RevokeReason == nil || *loaded.RevokeReason != reason {
		t.Fatalf("revoke not persisted: %+v", loaded)
	}
}

func TestLatestRecordAndReset(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	userID := uuid.NewString()
	now := time.Now().UTC()

	first := testRecord(userID)
	first.Status = model.TrustStatusSuperseded
	first.RegisteredAt = now.Add(-time.Hour)
	if err := store.CreateTrustRecord(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := testRecord(userID)
	if err := store.CreateTrustRecord(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	latest, err := store.GetLatestTrustRecordForUser(ctx, userID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected %s as latest, got %s", second.ID, latest.ID)
	}

	// A reset clears revoked bindings too; that is what re-authorizes a
	// revoked user to register again.
	reason := "security_incident"
	if err := store.UpdateTrustStatus(ctx, second.ID, model.TrustStatusRevoked, &now, &reason); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	affected, err := store.ResetTrustRecordsForUser(ctx, userID, "admin_reset", now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected the revoked record reset, got %d rows", affected)
	}
	latest, err = store.GetLatestTrustRecordForUser(ctx, userID)
	if err != nil {
		t.Fatalf("latest after reset: %v", err)
	}
	if latest.Status != model.TrustStatusReset {
		t.Fatalf("expected reset status, got %s", latest.Status)
	}
}

func TestOneActiveRecordPerUser(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	if err := store.CreateTrustRecord(ctx, testRecord(userID)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// The partial unique index rejects a second active binding.
	if err := store.CreateTrustRecord(ctx, testRecord(userID)); err == nil {
		t.Fatalf("second active record for the same user must fail")
	}

	if err := store.SupersedeActiveRecords(ctx, userID, time.Now().UTC()); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if err := store.CreateTrustRecord(ctx, testRecord(userID)); err != nil {
		t.Fatalf("create after supersede: %v", err)
	}
}

func TestActivateRegistrationConsumesOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	userID := uuid.NewString()
	now := time.Now().UTC()

	attempt := model.VerificationAttempt{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: "9876543210",
		Fingerprint: model.DeviceFingerprint{Platform: model.PlatformAndroid, DeviceID: uuid.NewString()},
		CodeHash:    "hash",
		ExpiresAt:   now.Add(5 * time.Minute),
		CreatedAt:   now,
	}
	if err := store.CreateVerification(ctx, attempt); err != nil {
		t.Fatalf("create verification: %v", err)
	}

	first := testRecord(userID)
	activated, err := store.ActivateRegistration(ctx, attempt.ID, first, now)
	if err != nil || !activated {
		t.Fatalf("first activation: activated=%v err=%v", activated, err)
	}

	// A second activation loses the consume race and leaves no side effects.
	second := testRecord(userID)
	activated, err = store.ActivateRegistration(ctx, attempt.ID, second, now)
	if err != nil {
		t.Fatalf("second activation errored: %v", err)
	}
	if activated {
		t.Fatalf("verification consumed twice")
	}
	if _, err := store.GetTrustRecord(ctx, second.ID); err == nil {
		t.Fatalf("losing activation must roll back its record")
	}

	winner, err := store.GetActiveTrustRecordForUser(ctx, userID)
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if winner.ID != first.ID {
		t.Fatalf("expected %s to stay active, got %s", first.ID, winner.ID)
	}
}

func TestScanEventsAndSummary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	point := model.ActionPoint{
		ID:         uuid.NewString(),
		Name:       "Integration Mess",
		ActionType: model.ActionMess,
		QRMode:     model.QRModeStatic,
		Geofence: model.Geofence{
			Center:       model.GeoPoint{Latitude: 12.9716, Longitude: 77.5946},
			RadiusMeters: 50,
		},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateActionPoint(ctx, point); err != nil {
		t.Fatalf("create action point: %v", err)
	}

	userID := uuid.NewString()
	reason := model.ReasonOutsideGeofence
	events := []model.ScanEvent{
		{
			ID:               uuid.NewString(),
			UserID:           userID,
			DeviceID:         "device-1",
			ActionPointID:    point.ID,
			ActionType:       string(point.ActionType),
			QRMode:           model.QRModeStatic,
			ScannedAt:        time.Now().UTC(),
			GeoValidated:     true,
			DeviceValidated:  true,
			ValidationResult: model.ScanAccepted,
		},
		{
			ID:               uuid.NewString(),
			UserID:           userID,
			DeviceID:         "device-1",
			ActionPointID:    point.ID,
			ActionType:       string(point.ActionType),
			QRMode:           model.QRModeStatic,
			ScannedAt:        time.Now().UTC(),
			DeviceValidated:  true,
			ValidationResult: model.ScanRejected,
			RejectionReason:  &reason,
		},
	}
	for _, event := range events {
		if err := store.CreateScanEvent(ctx, event); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}

	listed, err := store.ListScanEvents(ctx, ListScanEventsParams{UserID: userID, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(listed))
	}

	buckets, err := store.RejectionBuckets(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("buckets: %v", err)
	}
	found := false
	for _, bucket := range buckets {
		if bucket.ActionPointID == point.ID && bucket.RejectionReason == reason {
			found = true
			if bucket.Count != 1 || bucket.PointTotal != 2 {
				t.Fatalf("unexpected bucket: %+v", bucket)
			}
		}
	}
	if !found {
		t.Fatalf("rejection bucket missing for %s", point.ID)
	}
}

func TestListFlaggedDevices(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	record := testRecord(userID)
	if err := store.CreateTrustRecord(ctx, record); err != nil {
		t.Fatalf("create record: %v", err)
	}

	reason := model.ReasonDeviceMismatch
	for i := 0; i < 3; i++ {
		event := model.ScanEvent{
			ID:               uuid.NewString(),
			UserID:           userID,
			DeviceID:         record.DeviceID,
			ActionPointID:    uuid.NewString(),
			ActionType:       string(model.ActionMess),
			QRMode:           model.QRModeStatic,
			ScannedAt:        time.Now().UTC(),
			ValidationResult: model.ScanRejected,
			RejectionReason:  &reason,
		}
		if err := store.CreateScanEvent(ctx, event); err != nil {
			t.Fatalf("create event %d: %v", i, err)
		}
	}

	flagged, err := store.ListFlaggedDevices(ctx, time.Now().UTC().Add(-time.Hour), 2, 10)
	if err != nil {
		t.Fatalf("flagged: %v", err)
	}
	found := false
	for _, entry := range flagged {
		if entry.Record.ID == record.ID {
			found = true
			if entry.RejectedScans != 3 {
				t.Fatalf("expected 3 rejected scans, got %d", entry.RejectedScans)
			}
		}
	}
	if !found {
		t.Fatalf("record %s missing from flagged devices", record.ID)
	}
}
