package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campustrust/internal/anomaly"
	"campustrust/internal/config"
)

// StartAnomalySweepJob periodically runs anomaly detection over the recent
// scan window and logs what it finds. Operators read the log stream; the
// HTTP report endpoints serve the same data on demand.
func StartAnomalySweepJob(ctx context.Context, cfg config.Config, reporter *anomaly.Reporter, logger *zap.Logger) {
	if !cfg.AnomalyJobEnabled {
		return
	}
	interval := cfg.AnomalyJobInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.AnomalyJobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	days := cfg.AnomalyJobPeriod
	if days <= 0 {
		days = 7
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				found, err := reporter.DetectAnomalies(tickCtx, days)
				cancel()
				if err != nil {
					logger.Warn("anomaly sweep error", zap.Error(err))
					continue
				}
				for _, a := range found {
					logger.Warn("rejection anomaly",
						zap.String("action_point_id", a.ActionPointID),
						zap.String("reason", a.RejectionReason),
						zap.Int64("count", a.Count),
						zap.Float64("share", a.Share))
				}
			}
		}
	}()
}
