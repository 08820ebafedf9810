// Package mailer provides Mailer implementations for marketauth.
//
// The Engine treats delivery as fire-and-forget: a returned error is logged
// and audited but never changes the outcome of the calling operation.
package mailer

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Message is one delivered mail.
type Message struct {
	To       string
	Template string
	Params   map[string]string
}

// LogMailer writes each message to a zap logger instead of sending it. It is
// the default for development deployments without an SMTP relay.
type LogMailer struct {
	logger *zap.Logger
	// Redact lists param keys whose values are replaced before logging.
	Redact []string
}

// NewLogMailer returns a LogMailer that redacts "token" and "code" params.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{
		logger: logger,
		Redact: []string{"token", "code"},
	}
}

func (m *LogMailer) Send(ctx context.Context, to, template string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := []zap.Field{
		zap.String("to", to),
		zap.String("template", template),
	}
	for _, k := range keys {
		v := params[k]
		for _, r := range m.Redact {
			if k == r {
				v = "[redacted]"
				break
			}
		}
		fields = append(fields, zap.String("param."+k, v))
	}
	m.logger.Info("mail queued", fields...)
	return nil
}

// Recorder keeps every message in memory. Tests read them back with Messages.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	// Err, when set, is returned from Send after the message is recorded.
	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, to, template string, params map[string]string) error {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{To: to, Template: template, Params: cp})
	return r.Err
}

// Messages returns a copy of recorded messages in send order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Last returns the most recent message sent to addr.
func (r *Recorder) Last(addr string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].To == addr {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}
