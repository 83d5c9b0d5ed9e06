package channels

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. Used
// when no relay is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, html, text string) error {
	if err := requireField("email", "recipient", to); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not delivered (log sender)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_len", len(text)+len(html)),
	)
	return s.done(ctx, "email")
}

func (s *LogSender) SendSMS(ctx context.Context, to, body string) error {
	if err := requireField("sms", "recipient", to); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "sms not delivered (log sender)",
		slog.String("to", to),
		slog.Int("body_len", len(body)),
	)
	return s.done(ctx, "sms")
}

func (s *LogSender) done(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return classify(ctx, channel, err)
	}
	return nil
}

var _ Sender = (*LogSender)(nil)
