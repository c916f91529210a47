package anomaly

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"campustrust/internal/model"
	"campustrust/internal/repository"
)

type fakeStore struct {
	summary []repository.ScanSummaryRow
	buckets []repository.RejectionBucketRow
	flagged []repository.FlaggedDevice

	lastSince time.Time
}

func (f *fakeStore) ScanSummary(_ context.Context, since time.Time) ([]repository.ScanSummaryRow, error) {
	f.lastSince = since
	return f.summary, nil
}

func (f *fakeStore) RejectionBuckets(_ context.Context, since time.Time) ([]repository.RejectionBucketRow, error) {
	f.lastSince = since
	return f.buckets, nil
}

func (f *fakeStore) ListFlaggedDevices(_ context.Context, since time.Time, _ int64, _ int32) ([]repository.FlaggedDevice, error) {
	f.lastSince = since
	return f.flagged, nil
}

func testReporter(store *fakeStore) *Reporter {
	return NewReporter(store, Config{MinCount: 10, Share: 0.25}, zap.NewNop())
}

func TestSummarize(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{summary: []repository.ScanSummaryRow{
		{Day: day, ActionType: string(model.ActionMess), Accepted: 120, Rejected: 4},
		{Day: day, ActionType: string(model.ActionLibrary), Accepted: 30, Rejected: 1},
	}}

	out, err := testReporter(store).Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].Accepted != 120 || out[0].ActionType != "mess" {
		t.Fatalf("unexpected row: %+v", out[0])
	}
	if time.Since(store.lastSince) < 6*24*time.Hour || time.Since(store.lastSince) > 8*24*time.Hour {
		t.Fatalf("since should be ~7 days back, got %v", store.lastSince)
	}
}

func TestDetectAnomalies(t *testing.T) {
	store := &fakeStore{buckets: []repository.RejectionBucketRow{
		// 40% outside_geofence on 100 scans: anomalous.
		{ActionPointID: "pt-1", RejectionReason: model.ReasonOutsideGeofence, Count: 40, PointTotal: 100},
		// High share but below the count floor: noise.
		{ActionPointID: "pt-2", RejectionReason: model.ReasonDeviceMismatch, Count: 5, PointTotal: 8},
		// Big bucket but a small share of heavy traffic: fine.
		{ActionPointID: "pt-3", RejectionReason: model.ReasonDuplicateScan, Count: 50, PointTotal: 1000},
		// 60% share, should sort above pt-1.
		{ActionPointID: "pt-4", RejectionReason: model.ReasonInvalidRotatingCode, Count: 30, PointTotal: 50},
	}}

	out, err := testReporter(store).DetectAnomalies(context.Background(), 7)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 anomalies, got %d: %+v", len(out), out)
	}
	if out[0].ActionPointID != "pt-4" || out[1].ActionPointID != "pt-1" {
		t.Fatalf("expected pt-4 then pt-1, got %+v", out)
	}
	if out[0].Share != 0.6 {
		t.Fatalf("expected share 0.6, got %f", out[0].Share)
	}
}

func TestDetectAnomaliesEmpty(t *testing.T) {
	out, err := testReporter(&fakeStore{}).DetectAnomalies(context.Background(), 7)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no anomalies, got %+v", out)
	}
}
