package anomaly

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"campustrust/internal/repository"
)

type Config struct {
	// MinCount is the smallest rejection bucket worth reporting.
	MinCount int64
	// Share is the rejected-to-total ratio above which a bucket is anomalous.
	Share float64
}

type store interface {
	ScanSummary(ctx context.Context, since time.Time) ([]repository.ScanSummaryRow, error)
	RejectionBuckets(ctx context.Context, since time.Time) ([]repository.RejectionBucketRow, error)
	ListFlaggedDevices(ctx context.Context, since time.Time, minRejected int64, limit int32) ([]repository.FlaggedDevice, error)
}

// Reporter aggregates scan outcomes for operators and flags action points
// and devices whose rejection patterns stand out.
type Reporter struct {
	store  store
	cfg    Config
	logger *zap.Logger
}

func NewReporter(store store, cfg Config, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, cfg: cfg, logger: logger}
}

type DaySummary struct {
	Day        time.Time `json:"day"`
	ActionType string    `json:"action_type"`
	Accepted   int64     `json:"accepted"`
	Rejected   int64     `json:"rejected"`
}

// Summarize returns per-day, per-action-type accept/reject counts for the
// last N days.
func (r *Reporter) Summarize(ctx context.Context, days int) ([]DaySummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.store.ScanSummary(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]DaySummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, DaySummary{
			Day:        row.Day,
			ActionType: row.ActionType,
			Accepted:   row.Accepted,
			Rejected:   row.Rejected,
		})
	}
	return out, nil
}

type Anomaly struct {
	ActionPointID   string  `json:"action_point_id"`
	RejectionReason string  `json:"rejection_reason"`
	Count           int64   `json:"count"`
	Share           float64 `json:"share"`
}

// DetectAnomalies reports (action point, reason) buckets whose rejection
// share of the point's traffic exceeds the configured threshold. Small
// buckets are dropped so a handful of typos never pages anyone.
func (r *Reporter) DetectAnomalies(ctx context.Context, days int) ([]Anomaly, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	buckets, err := r.store.RejectionBuckets(ctx, since)
	if err != nil {
		return nil, err
	}

	var out []Anomaly
	for _, b := range buckets {
		if b.Count < r.cfg.MinCount || b.PointTotal == 0 {
			continue
		}
		share := float64(b.Count) / float64(b.PointTotal)
		if share <= r.cfg.Share {
			continue
		}
		out = append(out, Anomaly{
			ActionPointID:   b.ActionPointID,
			RejectionReason: b.RejectionReason,
			Count:           b.Count,
			Share:           share,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Share > out[j].Share })
	return out, nil
}

// FlaggedDevices lists the devices accumulating the most rejections in the
// window, most suspicious first.
func (r *Reporter) FlaggedDevices(ctx context.Context, days int, limit int32) ([]repository.FlaggedDevice, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	return r.store.ListFlaggedDevices(ctx, since, r.cfg.MinCount, limit)
}
