package sms

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers a short text message to a phone number in E.164 form.
type Sender interface {
	SendSMS(ctx context.Context, phoneNumber, body string) error
}

// LogSender writes messages to the log instead of sending them. Used in
// dev mode and in tests.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) SendSMS(_ context.Context, phoneNumber, body string) error {
	s.Logger.Info("sms (not sent)", zap.String("to", phoneNumber), zap.String("body", body))
	return nil
}
