// Package scanner drives a QR decode loop: it previews the scanned identifier,
// suppresses immediate repeats and submits each new scan to the check-in endpoint.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/qrpayload"
	"github.com/sirupsen/logrus"
)

const (
	DefaultScannerID = "device-1"
	DefaultCooldown  = 2 * time.Second
)

type StatusKind string

const (
	StatusIdle        StatusKind = "idle"
	StatusLoading     StatusKind = "loading"
	StatusSuccess     StatusKind = "success"
	StatusAlready     StatusKind = "already"
	StatusError       StatusKind = "error"
	StatusCameraError StatusKind = "camera_error"
)

// Status is what the operator sees after each event. Scanned is the identifier preview.
type Status struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
	Scanned string     `json:"scanned,omitempty"`
}

// Decode is one result from the camera or keyboard-wedge device. Err is set for device failures.
type Decode struct {
	Payload string
	Err     error
}

type scanRequest struct {
	QR      string `json:"qr"`
	Type    string `json:"type"`
	Scanner string `json:"scanner"`
}

type scanResponse struct {
	Success bool   `json:"success"`
	Already bool   `json:"already"`
	Message string `json:"message"`
}

// Client holds the state of one scanner station. It is safe for concurrent use.
type Client struct {
	Endpoint  string
	Type      models.EventType
	ScannerID string
	Cooldown  time.Duration
	Locale    string

	HTTP       *http.Client
	Translator *i18n.Translator
	Logger     *logrus.Logger
	// OnStatus, when set, is called with every status transition.
	OnStatus func(Status)

	mu      sync.Mutex
	lastID  string
	resetAt *time.Timer
	status  Status
}

func NewClient(endpoint string, eventType models.EventType, scannerID string) *Client {
	if strings.TrimSpace(scannerID) == "" {
		scannerID = DefaultScannerID
	}
	return &Client{
		Endpoint:   endpoint,
		Type:       eventType,
		ScannerID:  scannerID,
		Cooldown:   DefaultCooldown,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
		Translator: i18n.Default(),
		status:     Status{Kind: StatusIdle},
	}
}

// Status returns the most recent status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run announces readiness, then consumes decodes until the channel closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context, decodes <-chan Decode) error {
	defer c.Close()
	c.setStatus(StatusIdle, c.t(i18n.ScannerReady), "")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-decodes:
			if !ok {
				return nil
			}
			c.HandleDecode(ctx, d)
		}
	}
}

// HandleDecode processes one decode event. It reports whether a submission was made.
func (c *Client) HandleDecode(ctx context.Context, d Decode) bool {
	if d.Err != nil {
		c.HandleCameraError(d.Err)
		return false
	}
	raw := strings.TrimSpace(d.Payload)
	if raw == "" {
		return false
	}
	id := qrpayload.ExtractID(raw)

	c.mu.Lock()
	c.status.Scanned = id
	if id == c.lastID {
		c.mu.Unlock()
		return false
	}
	c.lastID = id
	if c.resetAt != nil {
		c.resetAt.Stop()
		c.resetAt = nil
	}
	c.mu.Unlock()

	c.setStatus(StatusLoading, c.t(i18n.ScannerVerifying), id)
	kind, msg := c.submit(ctx, raw)
	c.setStatus(kind, msg, id)
	c.armReset(id)
	return true
}

// HandleCameraError surfaces a device failure without touching the de-dup state.
func (c *Client) HandleCameraError(err error) {
	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{"field": "Scanner", "scanner": c.ScannerID}).Warn("camera error: " + err.Error())
	}
	c.mu.Lock()
	scanned := c.status.Scanned
	c.mu.Unlock()
	c.setStatus(StatusCameraError, c.t(i18n.ScannerCameraError), scanned)
}

// Close stops a pending cooldown timer.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetAt != nil {
		c.resetAt.Stop()
		c.resetAt = nil
	}
}

func (c *Client) armReset(id string) {
	cooldown := c.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastID != id {
		return
	}
	c.resetAt = time.AfterFunc(cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.lastID == id {
			c.lastID = ""
		}
	})
}

func (c *Client) submit(ctx context.Context, raw string) (StatusKind, string) {
	resp, err := c.post(ctx, scanRequest{QR: raw, Type: string(c.Type), Scanner: c.ScannerID})
	if err != nil {
		if c.Logger != nil {
			c.Logger.WithFields(logrus.Fields{"field": "Scanner", "scanner": c.ScannerID}).Error("submit scan: " + err.Error())
		}
		return StatusError, c.t(i18n.ScannerNetworkError)
	}
	switch {
	case resp.Success:
		return StatusSuccess, resp.Message
	case resp.Already:
		return StatusAlready, resp.Message
	default:
		return StatusError, resp.Message
	}
}

func (c *Client) post(ctx context.Context, body scanRequest) (*scanResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// Failure outcomes arrive with 4xx/5xx codes but still carry the JSON shape.
	var out scanResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", res.StatusCode, err)
	}
	if out.Message == "" && !out.Success {
		return nil, errors.New("empty response from " + c.Endpoint)
	}
	return &out, nil
}

func (c *Client) setStatus(kind StatusKind, msg, scanned string) {
	st := Status{Kind: kind, Message: msg, Scanned: scanned}
	c.mu.Lock()
	c.status = st
	cb := c.OnStatus
	c.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Line renders st as one line of terminal output.
func (c *Client) Line(st Status) string {
	parts := []string{"[" + string(st.Kind) + "]"}
	if st.Scanned != "" {
		parts = append(parts, c.tf(i18n.ScannerScanned, map[string]any{"ID": st.Scanned}))
	}
	if st.Message != "" {
		parts = append(parts, st.Message)
	}
	return strings.Join(parts, " ")
}

func (c *Client) t(key string) string {
	return c.tf(key, nil)
}

func (c *Client) tf(key string, data map[string]any) string {
	if c.Translator == nil {
		return key
	}
	return c.Translator.T(c.Locale, key, data)
}
