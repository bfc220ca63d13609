package relay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

const (
	SignatureHeader = "X-Ledger-Signature"
	EventHeader     = "X-Ledger-Event"
	DeliveryHeader  = "X-Ledger-Delivery"
)

// WebhookPublisher POSTs each event to a single endpoint, signed with
// HMAC-SHA256 over the body.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	logger     *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher retrying after 1s, 5s and 25s.
func NewWebhookPublisher(url, secret string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{time.Second, 5 * time.Second, 25 * time.Second},
		logger:     logger,
	}
}

// SetRetryDelays replaces the backoff schedule. Intended for tests.
func (p *WebhookPublisher) SetRetryDelays(d ...time.Duration) { p.delays = d }

func (p *WebhookPublisher) Name() string { return "webhook" }

// Publish delivers ev, retrying on transport errors and non-2xx responses.
func (p *WebhookPublisher) Publish(ctx context.Context, ev *auditledger.AuditEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	signature := SignPayload(body, p.secret)

	var lastErr error
	for attempt := 0; attempt <= len(p.delays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delays[attempt-1]):
			}
		}

		lastErr = p.doDelivery(ctx, ev, body, signature)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("webhook: delivery failed",
			zap.String("url", p.url),
			zap.Uint64("seq", ev.Seq),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (p *WebhookPublisher) doDelivery(ctx context.Context, ev *auditledger.AuditEvent, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, string(ev.Kind))
	req.Header.Set(DeliveryHeader, ev.ID.String())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// SignPayload computes the "sha256=<hex>" HMAC signature of body.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
