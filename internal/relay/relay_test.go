package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	skafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
	"github.com/jmerrifield20/TriageLedger/internal/relay"
)

var ctx = context.Background()

func newLedger(t *testing.T, records int) *auditledger.Ledger {
	t.Helper()
	l, err := auditledger.New(ctx, auditledger.NewMemoryStore(), "admin", zap.NewNop())
	if err != nil {
		t.Fatalf("auditledger.New: %v", err)
	}
	for i := 0; i < records; i++ {
		id := "Patient/" + string(rune('a'+i))
		if _, err := l.CreateRecord(ctx, "clinician", id, auditledger.DigestFromString(id), "patient"); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
	}
	return l
}

// memPublisher records events and fails while failNext > 0.
type memPublisher struct {
	mu       sync.Mutex
	got      []uint64
	failNext int
}

func (p *memPublisher) Name() string { return "mem" }

func (p *memPublisher) Publish(_ context.Context, ev *auditledger.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, ev.Seq)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) seqs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.got...)
}

func TestRelay_flushInOrderAcrossBatches(t *testing.T) {
	l := newLedger(t, 5)
	pub := &memPublisher{}
	r := relay.New(l, pub, time.Millisecond, 2, zap.NewNop())

	n, err := r.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 5 || r.Cursor() != 5 {
		t.Fatalf("sent %d, cursor %d", n, r.Cursor())
	}
	for i, seq := range pub.seqs() {
		if seq != uint64(i+1) {
			t.Fatalf("out of order: %v", pub.seqs())
		}
	}

	n, err = r.Flush(ctx)
	if err != nil || n != 0 {
		t.Errorf("second flush: n=%d err=%v", n, err)
	}
}

func TestRelay_failureKeepsCursor(t *testing.T) {
	l := newLedger(t, 3)
	pub := &memPublisher{}
	r := relay.New(l, pub, time.Millisecond, 10, zap.NewNop())
	r.SetCursor(1)

	var failures int
	r.SetDeliveryRecorder(func(name string, ok bool) {
		if name != "mem" {
			t.Errorf("publisher name: %q", name)
		}
		if !ok {
			failures++
		}
	})

	pub.failNext = 1
	if _, err := r.Flush(ctx); err == nil {
		t.Fatal("expected publish error")
	}
	if r.Cursor() != 1 {
		t.Errorf("cursor moved on failure: %d", r.Cursor())
	}
	if failures != 1 {
		t.Errorf("failures recorded: %d", failures)
	}

	if n, err := r.Flush(ctx); err != nil || n != 2 {
		t.Fatalf("retry flush: n=%d err=%v", n, err)
	}
	if got := pub.seqs(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("delivered: %v", got)
	}
}

func TestRelay_runStopsOnCancel(t *testing.T) {
	l := newLedger(t, 2)
	pub := &memPublisher{}
	r := relay.New(l, pub, 5*time.Millisecond, 0, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	deadline := time.After(2 * time.Second)
	for r.Cursor() < 2 {
		select {
		case <-deadline:
			t.Fatal("relay did not deliver within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	l := newLedger(t, 1)
	if _, err := l.Pause(ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	events, _ := l.Events(ctx, auditledger.EventFilter{})

	fw := &fakeWriter{}
	p := relay.NewKafkaPublisherWithWriter(fw)
	for _, ev := range events {
		if err := p.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fw.msgs))
	}
	if got, want := string(fw.msgs[0].Key), events[0].RecordID.Hex(); got != want {
		t.Errorf("record key: got %s, want %s", got, want)
	}
	if string(fw.msgs[1].Key) != "ledger" {
		t.Errorf("admin event key: got %s", fw.msgs[1].Key)
	}

	var decoded auditledger.AuditEvent
	if err := json.Unmarshal(fw.msgs[0].Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Hash != events[0].Hash || decoded.ID != events[0].ID {
		t.Errorf("decoded event differs: %+v", decoded)
	}

	fw.err = errors.New("leader not available")
	if err := p.Publish(ctx, events[0]); err == nil {
		t.Error("expected write error")
	}
}

type fakeChannel struct {
	declared []string
	sent     []amqp.Publishing
	keys     []string
	closed   bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	l := newLedger(t, 1)
	events, _ := l.Events(ctx, auditledger.EventFilter{})

	ch := &fakeChannel{}
	p, err := relay.NewAMQPPublisherWithChannel(ch, "audit-events")
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "audit-events" {
		t.Fatalf("declared: %v", ch.declared)
	}
	if err := p.Publish(ctx, events[0]); err != nil {
		t.Fatal(err)
	}

	msg := ch.sent[0]
	if ch.keys[0] != "audit-events" {
		t.Errorf("routing key: %s", ch.keys[0])
	}
	if msg.DeliveryMode != amqp.Persistent {
		t.Error("message not persistent")
	}
	if msg.MessageId != events[0].ID.String() || msg.Type != "created" {
		t.Errorf("unexpected properties: id=%s type=%s", msg.MessageId, msg.Type)
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close: err=%v closed=%v", err, ch.closed)
	}
}

func TestWebhookPublisher_signsAndRetries(t *testing.T) {
	l := newLedger(t, 1)
	events, _ := l.Events(ctx, auditledger.EventFilter{})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if got, want := r.Header.Get(relay.SignatureHeader), relay.SignPayload(body, "hook-secret"); got != want {
			t.Errorf("signature: got %s, want %s", got, want)
		}
		if r.Header.Get(relay.DeliveryHeader) != events[0].ID.String() {
			t.Errorf("delivery id: %s", r.Header.Get(relay.DeliveryHeader))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := relay.NewWebhookPublisher(srv.URL, "hook-secret", zap.NewNop())
	p.SetRetryDelays(time.Millisecond)
	if err := p.Publish(ctx, events[0]); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhookPublisher_givesUp(t *testing.T) {
	l := newLedger(t, 1)
	events, _ := l.Events(ctx, auditledger.EventFilter{})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := relay.NewWebhookPublisher(srv.URL, "s", zap.NewNop())
	p.SetRetryDelays(time.Millisecond, time.Millisecond)
	if err := p.Publish(ctx, events[0]); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestSignPayload(t *testing.T) {
	a := relay.SignPayload([]byte(`{"seq":1}`), "k")
	if a != relay.SignPayload([]byte(`{"seq":1}`), "k") {
		t.Error("signature not deterministic")
	}
	if a == relay.SignPayload([]byte(`{"seq":1}`), "other") {
		t.Error("signature ignores secret")
	}
	if len(a) != len("sha256=")+64 {
		t.Errorf("signature length: %d", len(a))
	}
}
