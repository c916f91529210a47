package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"campustrust/internal/model"
)

func (s *Store) CreateVerification(ctx context.Context, attempt model.VerificationAttempt) error {
	fingerprint, err := json.Marshal(attempt.Fingerprint)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO verification_attempts
			(id, user_id, phone_number, fingerprint, code_hash, tries, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, attempt.ID, attempt.UserID, attempt.PhoneNumber, fingerprint, attempt.CodeHash, attempt.Tries, attempt.ExpiresAt, attempt.CreatedAt)
	return err
}

func (s *Store) GetVerification(ctx context.Context, verificationID string) (model.VerificationAttempt, error) {
	var attempt model.VerificationAttempt
	var fingerprint []byte
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, phone_number, fingerprint, code_hash, tries,
			expires_at, consumed_at, failed_at, record_id, created_at
		FROM verification_attempts
		WHERE id = $1
	`, verificationID)
	err := row.Scan(
		&attempt.ID,
		&attempt.UserID,
		&attempt.PhoneNumber,
		&fingerprint,
		&attempt.CodeHash,
		&attempt.Tries,
		&attempt.ExpiresAt,
		&attempt.ConsumedAt,
		&attempt.FailedAt,
		&attempt.RecordID,
		&attempt.CreatedAt,
	)
	if err != nil {
		return attempt, err
	}
	if err := json.Unmarshal(fingerprint, &attempt.Fingerprint); err != nil {
		return attempt, err
	}
	return attempt, nil
}

func (s *Store) IncrementVerificationTries(ctx context.Context, verificationID string) (int, error) {
	var tries int
	err := s.db.QueryRow(ctx, `
		UPDATE verification_attempts
		SET tries = tries + 1
		WHERE id = $1
		RETURNING tries
	`, verificationID).Scan(&tries)
	return tries, err
}

// ConsumeVerification marks the attempt consumed exactly once. The WHERE
// guard makes a second consume a no-op with zero rows, which the registrar
// treats as already-resolved.
func (s *Store) ConsumeVerification(ctx context.Context, verificationID, recordID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE verification_attempts
		SET consumed_at = $1, record_id = $2
		WHERE id = $3 AND consumed_at IS NULL AND failed_at IS NULL
	`, at, recordID, verificationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FailVerification(ctx context.Context, verificationID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE verification_attempts
		SET failed_at = $1
		WHERE id = $2 AND consumed_at IS NULL AND failed_at IS NULL
	`, at, verificationID)
	return err
}

var errVerificationAlreadyResolved = errors.New("verification already resolved")

// ActivateRegistration supersedes the user's current active binding,
// inserts the new record and consumes the verification, all in one
// transaction. Returns false without side effects when another call
// already consumed or failed the attempt.
func (s *Store) ActivateRegistration(ctx context.Context, verificationID string, record model.DeviceTrustRecord, at time.Time) (bool, error) {
	err := s.WithTx(ctx, func(tx *Store) error {
		if err := tx.SupersedeActiveRecords(ctx, record.UserID, at); err != nil {
			return err
		}
		if err := tx.CreateTrustRecord(ctx, record); err != nil {
			return err
		}
		consumed, err := tx.ConsumeVerification(ctx, verificationID, record.ID, at)
		if err != nil {
			return err
		}
		if !consumed {
			return errVerificationAlreadyResolved
		}
		return nil
	})
	if errors.Is(err, errVerificationAlreadyResolved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CountVerificationsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM verification_attempts
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count)
	return count, err
}
