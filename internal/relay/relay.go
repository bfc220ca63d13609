// Package relay forwards committed audit events to downstream consumers in
// log order. Delivery is at-least-once: the cursor only moves past an event
// once its publisher has accepted it, and consumers dedupe by event ID.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Publisher delivers a single audit event to a downstream system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev *auditledger.AuditEvent) error
	Close() error
}

// Source yields events after a sequence number. *auditledger.Ledger satisfies it.
type Source interface {
	Events(ctx context.Context, f auditledger.EventFilter) ([]*auditledger.AuditEvent, error)
}

// DeliveryRecorder is an optional callback for recording publish outcomes.
type DeliveryRecorder func(publisher string, success bool)

// Relay polls a Source and hands each new event to a Publisher.
type Relay struct {
	source     Source
	pub        Publisher
	interval   time.Duration
	batch      int
	cursor     atomic.Uint64
	onDelivery DeliveryRecorder
	logger     *zap.Logger
}

// New creates a Relay. Zero interval or batch fall back to the defaults.
func New(source Source, pub Publisher, interval time.Duration, batch int, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batch <= 0 || batch > auditledger.MaxEventLimit {
		batch = DefaultBatchSize
	}
	return &Relay{
		source:   source,
		pub:      pub,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// SetDeliveryRecorder configures the metrics callback.
func (r *Relay) SetDeliveryRecorder(fn DeliveryRecorder) { r.onDelivery = fn }

// SetCursor makes the relay resume after seq.
func (r *Relay) SetCursor(seq uint64) { r.cursor.Store(seq) }

// Cursor returns the sequence number of the last delivered event.
func (r *Relay) Cursor() uint64 { return r.cursor.Load() }

// Run flushes on every tick until ctx is cancelled. Publish failures are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		zap.String("publisher", r.pub.Name()),
		zap.Duration("interval", r.interval),
		zap.Uint64("cursor", r.Cursor()),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped", zap.Uint64("cursor", r.Cursor()))
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("relay: flush failed", zap.Error(err), zap.Uint64("cursor", r.Cursor()))
			}
		}
	}
}

// Flush delivers every pending event and returns how many were published.
// It stops at the first failure, leaving the cursor on the last success.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		events, err := r.source.Events(ctx, auditledger.EventFilter{AfterSeq: r.Cursor(), Limit: r.batch})
		if err != nil {
			return sent, fmt.Errorf("read events: %w", err)
		}
		for _, ev := range events {
			err := r.pub.Publish(ctx, ev)
			if r.onDelivery != nil {
				r.onDelivery(r.pub.Name(), err == nil)
			}
			if err != nil {
				return sent, fmt.Errorf("publish seq %d: %w", ev.Seq, err)
			}
			r.cursor.Store(ev.Seq)
			sent++
		}
		if len(events) < r.batch {
			return sent, nil
		}
	}
}

func encodeEvent(ev *auditledger.AuditEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", ev.Seq, err)
	}
	return b, nil
}

// partitionKey groups a record's events together. Administrative events
// carry no record and share one key.
func partitionKey(ev *auditledger.AuditEvent) string {
	if ev.RecordID.IsZero() {
		return "ledger"
	}
	return ev.RecordID.Hex()
}
