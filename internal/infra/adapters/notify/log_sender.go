package notify

import (
	"context"

	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain/ports/adapter"
)

var _ adapter.NotificationSender = (*LogSender)(nil)

// LogSender writes notifications to the structured log instead of a
// delivery channel. Used in dev mode and wherever a real sender is not
// configured yet.
type LogSender struct {
	log *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{log: logger}
}

func (s *LogSender) Send(ctx context.Context, userID, subject, body string) error {
	s.log.Info().
		Str("user_id", userID).
		Str("subject", subject).
		Str("body", body).
		Msg("notification")
	return nil
}
