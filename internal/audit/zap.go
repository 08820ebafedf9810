package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink writes each event as one structured log entry.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink logging through logger. A nil logger discards.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.Time("timestamp", event.Timestamp),
		zap.Bool("success", event.Success),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("details", event.Metadata))
	}

	s.logger.Info("security_event", fields...)
	return nil
}
