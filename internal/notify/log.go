package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender records messages in the log instead of delivering them. Used for local runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, message Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	s.logger.Info("notification accepted",
		zap.String("to", message.To),
		zap.String("subject", message.Subject),
		zap.Int("html_bytes", len(message.HTML)),
		zap.Int("text_bytes", len(message.Text)))
	return nil
}
