package scan

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// RotatingCodeVerifier checks the time-boxed code embedded in a rotating QR
// payload. Swappable so the rotation scheme stays a configuration concern.
type RotatingCodeVerifier interface {
	Verify(secret, code string, at time.Time) bool
}

// TOTPVerifier validates rotating codes as six-digit TOTP values over the
// action point's secret. Skew widens the accepted window by whole periods on
// either side.
type TOTPVerifier struct {
	Skew uint
}

func (v TOTPVerifier) Verify(secret, code string, at time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      v.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
