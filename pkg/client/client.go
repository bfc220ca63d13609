package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record is a ledger record as returned by GetRecord.
type Record struct {
	RecordID     string    `json:"record_id"`
	ResourceID   string    `json:"resource_id"`
	Owner        string    `json:"owner"`
	Creator      string    `json:"creator"`
	DataHash     string    `json:"data_hash"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Event is one entry of the audit event log.
type Event struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	RecordID   string    `json:"record_id"`
	ResourceID string    `json:"resource_id"`
	Actor      string    `json:"actor"`
	Owner      string    `json:"owner,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	DataHash   string    `json:"data_hash"`
	Timestamp  time.Time `json:"timestamp"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// EventQuery filters Events. Zero fields are ignored.
type EventQuery struct {
	RecordID   string
	ResourceID string
	Actor      string
	Kind       string
	After      uint64
	Limit      int
}

// EventPage is one page of replayed events. Next is the cursor for the
// following page.
type EventPage struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
	Next   uint64  `json:"next"`
}

// LedgerStatus is the bookkeeping state returned by GET /ledger.
type LedgerStatus struct {
	RecordCount   uint64 `json:"record_count"`
	Paused        bool   `json:"paused"`
	Administrator string `json:"administrator"`
	Events        uint64 `json:"events"`
	Root          string `json:"root"`
}

// VerifyResult reports event log integrity.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// TokenResult is a freshly minted caller token.
type TokenResult struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	Identity  string `json:"identity"`
	ExpiresIn int    `json:"expires_in"`
}

// APIError is a non-2xx response. Code and Kind are set for ledger rejections.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("ledger: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given ledger error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is the ledger SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.RWMutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a caller token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the ledger served at base (scheme://host[:port]).
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/") + "/api/v1",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetToken replaces the caller token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// MintToken exchanges the bootstrap admin secret for a caller token bound to identity.
func (c *Client) MintToken(ctx context.Context, adminSecret, identity string) (*TokenResult, error) {
	var out TokenResult
	hdr := http.Header{"X-Admin-Secret": []string{adminSecret}}
	if err := c.call(ctx, http.MethodPost, "/tokens", nil, hdr, map[string]string{"identity": identity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type eventEnvelope struct {
	Event *Event `json:"event"`
}

func (c *Client) mutate(ctx context.Context, method, path string, q url.Values, body any) (*Event, error) {
	var env eventEnvelope
	if err := c.call(ctx, method, path, q, nil, body, &env); err != nil {
		return nil, err
	}
	return env.Event, nil
}

// CreateRecord files a record for (resourceID, owner) with the hex digest dataHash.
func (c *Client) CreateRecord(ctx context.Context, resourceID, dataHash, owner string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/records", nil, map[string]string{
		"resource_id": resourceID, "data_hash": dataHash, "owner": owner,
	})
}

// UpdateRecord replaces the fingerprint of the caller's own record.
func (c *Client) UpdateRecord(ctx context.Context, resourceID, dataHash string) (*Event, error) {
	return c.mutate(ctx, http.MethodPut, "/records", nil, map[string]string{
		"resource_id": resourceID, "data_hash": dataHash,
	})
}

// DeleteRecord removes the caller's own record.
func (c *Client) DeleteRecord(ctx context.Context, resourceID string) (*Event, error) {
	return c.mutate(ctx, http.MethodDelete, "/records", url.Values{"resource_id": {resourceID}}, nil)
}

// ForceDeleteRecord removes a record the caller created for owner.
func (c *Client) ForceDeleteRecord(ctx context.Context, resourceID, owner string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/records/force-delete", nil, map[string]string{
		"resource_id": resourceID, "owner": owner,
	})
}

// LogAccess journals that the caller accessed a record.
func (c *Client) LogAccess(ctx context.Context, resourceID, owner string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/records/access", nil, map[string]string{
		"resource_id": resourceID, "owner": owner,
	})
}

// LogShareAccess journals that the caller shared a record with recipient.
func (c *Client) LogShareAccess(ctx context.Context, resourceID, owner, recipient string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/records/share", nil, map[string]string{
		"resource_id": resourceID, "owner": owner, "recipient": recipient,
	})
}

// LogRevokeAccess journals that the caller revoked user's access to a record.
func (c *Client) LogRevokeAccess(ctx context.Context, resourceID, owner, user string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/records/revoke", nil, map[string]string{
		"resource_id": resourceID, "owner": owner, "user": user,
	})
}

func recordKey(resourceID, owner string) url.Values {
	return url.Values{"resource_id": {resourceID}, "owner": {owner}}
}

// GetRecord fetches the record keyed (resourceID, owner).
func (c *Client) GetRecord(ctx context.Context, resourceID, owner string) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/records", recordKey(resourceID, owner), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordExists reports whether (resourceID, owner) has a live record.
func (c *Client) RecordExists(ctx context.Context, resourceID, owner string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.call(ctx, http.MethodGet, "/records/exists", recordKey(resourceID, owner), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// RecordID returns the deterministic record ID of (resourceID, owner).
func (c *Client) RecordID(ctx context.Context, resourceID, owner string) (string, error) {
	var out struct {
		RecordID string `json:"record_id"`
	}
	if err := c.call(ctx, http.MethodGet, "/records/id", recordKey(resourceID, owner), nil, nil, &out); err != nil {
		return "", err
	}
	return out.RecordID, nil
}

// Status returns the ledger's bookkeeping state.
func (c *Client) Status(ctx context.Context) (*LedgerStatus, error) {
	var out LedgerStatus
	if err := c.call(ctx, http.MethodGet, "/ledger", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to walk the event log.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.call(ctx, http.MethodGet, "/ledger/verify", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events replays the event log in sequence order.
func (c *Client) Events(ctx context.Context, q EventQuery) (*EventPage, error) {
	v := url.Values{}
	if q.RecordID != "" {
		v.Set("record_id", q.RecordID)
	}
	if q.ResourceID != "" {
		v.Set("resource_id", q.ResourceID)
	}
	if q.Actor != "" {
		v.Set("actor", q.Actor)
	}
	if q.Kind != "" {
		v.Set("kind", q.Kind)
	}
	if q.After > 0 {
		v.Set("after", strconv.FormatUint(q.After, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out EventPage
	if err := c.call(ctx, http.MethodGet, "/ledger/events", v, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause suspends record operations. Administrator only.
func (c *Client) Pause(ctx context.Context) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/admin/pause", nil, nil)
}

// Unpause resumes record operations. Administrator only.
func (c *Client) Unpause(ctx context.Context) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/admin/unpause", nil, nil)
}

// TransferAdministrator hands administration to administrator.
func (c *Client) TransferAdministrator(ctx context.Context, administrator string) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/admin/transfer", nil, map[string]string{"administrator": administrator})
}

// RenounceAdministrator leaves the ledger without an administrator.
func (c *Client) RenounceAdministrator(ctx context.Context) (*Event, error) {
	return c.mutate(ctx, http.MethodPost, "/admin/renounce", nil, nil)
}

// call sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, hdr http.Header, in, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.RLock()
	token := c.bearerToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
