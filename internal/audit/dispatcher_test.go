package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, Event) error {
	<-s.gate
	return nil
}

type failingSink struct {
	calls atomic.Int64
}

func (s *failingSink) Emit(context.Context, Event) error {
	s.calls.Add(1)
	return errors.New("sink down")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisabledDispatcherIsNilAndSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Failed() != 0 {
		t.Fatal("expected zero counters on nil dispatcher")
	}
}

func TestBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestSinkFailuresAreCountedAndReported(t *testing.T) {
	sink := &failingSink{}
	var reported atomic.Int64
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 8,
		OnError: func(ev Event, err error) {
			if ev.EventType == "" || err == nil {
				t.Errorf("unexpected OnError args: %+v %v", ev, err)
			}
			reported.Add(1)
		},
	}, sink)

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})
	d.Close()

	if d.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %d", d.Failed())
	}
	if reported.Load() != 2 {
		t.Fatalf("expected 2 OnError calls, got %d", reported.Load())
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()

	if got := len(sink.Events()); got != 10 {
		t.Fatalf("expected 10 drained events, got %d", got)
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, NoOpSink{})

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "e2"})
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf lockedBuffer
	sink := NewJSONWriterSink(&buf)
	err := sink.Emit(context.Background(), Event{
		Timestamp: time.Now().UTC(),
		EventType: "login_success",
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !strings.Contains(out, "\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestZapSinkLogsStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	err := sink.Emit(context.Background(), Event{
		EventType: "rate_limit_exceeded",
		IP:        "10.0.0.1",
		Metadata:  map[string]string{"endpoint_class": "login"},
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	entries := logs.FilterMessage("security_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_type"] != "rate_limit_exceeded" || fields["ip"] != "10.0.0.1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatal("expected empty user id to be omitted")
	}
}

func TestStoreSinkAppendsSecurityEvent(t *testing.T) {
	mem := store.NewMemory()
	sink := NewStoreSink(mem)
	now := time.Now().UTC()

	err := sink.Emit(context.Background(), Event{
		Timestamp: now,
		EventType: "password_changed",
		UserID:    "u1",
		UserAgent: "ua",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	events := mem.SecurityEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if events[0].Type != "password_changed" || events[0].UserAgent != "ua" || !events[0].Timestamp.Equal(now) {
		t.Fatalf("unexpected stored event: %+v", events[0])
	}
}

func TestMultiSinkDeliversToAllAndJoinsErrors(t *testing.T) {
	ch := NewChannelSink(1)
	bad := &failingSink{}
	m := MultiSink{bad, nil, ch}

	err := m.Emit(context.Background(), Event{EventType: "e"})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ch.Events()) != 1 {
		t.Fatal("expected healthy sink to still receive the event")
	}
}
