package flows

import (
	"context"
	"strconv"
)

// AuditFunc matches Engine.emitAudit.
type AuditFunc func(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

func noopLog(string, error) {}

func itoa(n int) string {
	return strconv.Itoa(n)
}
