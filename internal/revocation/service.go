package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"campustrust/internal/authz"
	"campustrust/internal/metrics"
	"campustrust/internal/model"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrRecordNotFound   = errors.New("record_not_found")
	ErrResetRateLimited = errors.New("reset_rate_limited")
)

const capabilityManageDevices = "manage_devices"

type Config struct {
	MaxResetsPerWindow int
	ResetWindow        time.Duration
}

type store interface {
	GetTrustRecord(ctx context.Context, recordID string) (model.DeviceTrustRecord, error)
	UpdateTrustStatus(ctx context.Context, recordID string, status model.TrustStatus, revokedAt *time.Time, reason *string) error
	ResetTrustRecordsForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	CountResetsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// Service performs administrative revocations and per-user resets. Both
// operations act on the stored record, so in-flight tokens die with it.
type Service struct {
	store      store
	authorizer authz.Authorizer
	cfg        Config
	logger     *zap.Logger
}

func NewService(store store, authorizer authz.Authorizer, cfg Config, logger *zap.Logger) *Service {
	return &Service{store: store, authorizer: authorizer, cfg: cfg, logger: logger}
}

// RevokeDevice marks a single trust record revoked. Revoking an already
// revoked record is a no-op, not an error.
func (s *Service) RevokeDevice(ctx context.Context, operatorID, recordID, reason string) error {
	if err := s.authorize(ctx, operatorID); err != nil {
		return err
	}

	record, err := s.store.GetTrustRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotFound
		}
		return err
	}
	if record.Status == model.TrustStatusRevoked {
		return nil
	}

	now := time.Now().UTC()
	if err := s.store.UpdateTrustStatus(ctx, recordID, model.TrustStatusRevoked, &now, &reason); err != nil {
		return err
	}
	s.logger.Info("device revoked",
		zap.String("record_id", recordID),
		zap.String("user_id", record.UserID),
		zap.String("reason", reason),
		zap.String("operator_id", operatorID))
	metrics.Revocations.WithLabelValues("revoke").Inc()
	return nil
}

// ResetForUser clears every binding the user has so they can register a
// new device. Resets are rate limited per user to keep device hopping
// visible to operators.
func (s *Service) ResetForUser(ctx context.Context, operatorID, userID, reason string) error {
	if err := s.authorize(ctx, operatorID); err != nil {
		return err
	}

	now := time.Now().UTC()
	resets, err := s.store.CountResetsSince(ctx, userID, now.Add(-s.cfg.ResetWindow))
	if err != nil {
		return err
	}
	if resets >= int64(s.cfg.MaxResetsPerWindow) {
		return ErrResetRateLimited
	}

	affected, err := s.store.ResetTrustRecordsForUser(ctx, userID, reason, now)
	if err != nil {
		return err
	}
	s.logger.Info("trust reset",
		zap.String("user_id", userID),
		zap.String("operator_id", operatorID),
		zap.String("reason", reason),
		zap.Int64("records", affected))
	metrics.Revocations.WithLabelValues("reset").Inc()
	return nil
}

func (s *Service) authorize(ctx context.Context, operatorID string) error {
	allowed, err := s.authorizer.HasCapability(ctx, operatorID, capabilityManageDevices)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}
