package trustclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client drives the registration flow and submits scans, keeping the trust
// token in its TokenStore between calls.
type Client struct {
	baseURL   string
	userToken string
	http      *http.Client
	tokens    *TokenStore
	collector *FingerprintCollector
}

func New(baseURL, userToken string, tokens *TokenStore, collector *FingerprintCollector) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userToken: userToken,
		http:      &http.Client{Timeout: 15 * time.Second},
		tokens:    tokens,
		collector: collector,
	}
}

// APIError is a non-2xx response carrying the service's stable error code.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trustclient: %d %s", e.StatusCode, e.Code)
}

type RegistrationStart struct {
	VerificationID   string `json:"verification_id"`
	SMSTargetNumber  string `json:"sms_target_number"`
	SMSBodyTemplate  string `json:"sms_body_template"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DevCode          string `json:"dev_code,omitempty"`
}

type RegistrationStatus struct {
	State          string    `json:"state"`
	TrustToken     string    `json:"trust_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// StartRegistration begins phone verification for this device.
func (c *Client) StartRegistration(ctx context.Context, phoneNumber string) (RegistrationStart, error) {
	payload := map[string]interface{}{
		"phone_number": phoneNumber,
		"fingerprint":  c.collector.Collect(),
	}
	var out RegistrationStart
	err := c.do(ctx, http.MethodPost, "/device/register", c.userToken, payload, nil, &out)
	return out, err
}

// SubmitCode sends the code the user received and stores the token when
// the registration activates.
func (c *Client) SubmitCode(ctx context.Context, verificationID, code string) (RegistrationStatus, error) {
	path := fmt.Sprintf("/device/register/%s/code", verificationID)
	var out RegistrationStatus
	if err := c.do(ctx, http.MethodPost, path, c.userToken, map[string]string{"code": code}, nil, &out); err != nil {
		return out, err
	}
	return out, c.storeIfActive(out)
}

// PollStatus re-reads the verification and stores the token once active.
// Safe to call repeatedly; a missed response is recovered on the next poll.
func (c *Client) PollStatus(ctx context.Context, verificationID string) (RegistrationStatus, error) {
	path := fmt.Sprintf("/device/register/%s", verificationID)
	var out RegistrationStatus
	if err := c.do(ctx, http.MethodGet, path, c.userToken, nil, nil, &out); err != nil {
		return out, err
	}
	return out, c.storeIfActive(out)
}

func (c *Client) storeIfActive(status RegistrationStatus) error {
	if status.State != "active" || status.TrustToken == "" {
		return nil
	}
	return c.tokens.Save(status.TrustToken, status.TokenExpiresAt)
}

type ScanResult struct {
	EventID         string `json:"event_id"`
	Result          string `json:"result"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
	ScannedAt       string `json:"scanned_at"`
}

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Scans of the same point from the same device inside one bucket share an
// idempotency key, so a timed-out request retried moments later replays the
// original event instead of minting a second audit row.
const scanKeyBucket = 30 * time.Second

func scanIdempotencyKey(deviceID, actionPointID string, at time.Time) string {
	bucket := at.UTC().Truncate(scanKeyBucket).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", deviceID, actionPointID, bucket)))
	return hex.EncodeToString(sum[:16])
}

// Scan submits one QR scan. The idempotency key is derived from the device,
// the action point and the current time bucket, so a transport retry of the
// same physical scan carries the same key.
func (c *Client) Scan(ctx context.Context, actionPointID string, location *Location, rotatingCode string) (ScanResult, error) {
	stored, ok, err := c.tokens.Load()
	if err != nil {
		return ScanResult{}, err
	}
	trustToken := ""
	if ok {
		trustToken = stored.Token
	}
	fingerprint := c.collector.Collect()
	payload := map[string]interface{}{
		"trust_token":     trustToken,
		"action_point_id": actionPointID,
		"fingerprint":     fingerprint,
	}
	if location != nil {
		payload["location"] = location
	}
	if rotatingCode != "" {
		payload["rotating_code"] = rotatingCode
	}
	headers := map[string]string{
		"Idempotency-Key": scanIdempotencyKey(fingerprint.DeviceID, actionPointID, time.Now()),
	}

	var out ScanResult
	err = c.do(ctx, http.MethodPost, "/scan", "", payload, headers, &out)
	return out, err
}

// Unregister revokes this device's binding and clears the stored token.
func (c *Client) Unregister(ctx context.Context) error {
	stored, ok, err := c.tokens.Load()
	if err != nil {
		return err
	}
	if ok {
		if err := c.do(ctx, http.MethodDelete, "/device", stored.Token, nil, nil, nil); err != nil {
			var apiErr *APIError
			// An already-dead token is fine; we only wanted it gone.
			if !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized) {
				return err
			}
		}
	}
	return c.tokens.Clear()
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload interface{}, headers map[string]string, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
