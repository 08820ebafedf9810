package audit

import (
	"context"

	"github.com/MrEthical07/marketauth/store"
)

// Appender persists security events. Implemented by store.Postgres and
// store.Memory.
type Appender interface {
	AppendSecurityEvent(ctx context.Context, ev store.SecurityEvent) error
}

// StoreSink appends events to the security log table.
type StoreSink struct {
	appender Appender
}

func NewStoreSink(a Appender) *StoreSink {
	return &StoreSink{appender: a}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) error {
	return s.appender.AppendSecurityEvent(ctx, store.SecurityEvent{
		Type:      event.EventType,
		UserID:    event.UserID,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Success:   event.Success,
		Error:     event.Error,
		Details:   event.Metadata,
		Timestamp: event.Timestamp,
	})
}
