// Package sheets appends check-in rows to a Google spreadsheet.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// ErrMirrorDisabled is returned when no spreadsheet credentials are configured.
var ErrMirrorDisabled = errors.New("spreadsheet mirror disabled")

// Credentials identify the service account and the target sheet.
type Credentials struct {
	ServiceAccountEmail string
	PrivateKey          string
	SheetID             string
	Range               string
}

func (c Credentials) complete() bool {
	return c.ServiceAccountEmail != "" && c.PrivateKey != "" && c.SheetID != ""
}

// serviceAccountJSON assembles the key file google's auth libraries expect from the two env-provided fields.
func (c Credentials) serviceAccountJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": c.ServiceAccountEmail,
		"private_key":  c.PrivateKey,
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
}

// Appender writes rows with spreadsheets.values.append.
type Appender struct {
	svc     *gsheets.Service
	sheetID string
	rng     string
	timeout time.Duration
}

// NewAppender builds an Appender. Incomplete credentials yield ErrMirrorDisabled, never a panic.
func NewAppender(ctx context.Context, creds Credentials, opts ...option.ClientOption) (*Appender, error) {
	if !creds.complete() {
		return nil, ErrMirrorDisabled
	}
	if creds.Range == "" {
		creds.Range = "Sheet1!A:F"
	}
	keyJSON, err := creds.serviceAccountJSON()
	if err != nil {
		return nil, fmt.Errorf("encode service account: %w", err)
	}
	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON(keyJSON),
		option.WithScopes(gsheets.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Appender{svc: svc, sheetID: creds.SheetID, rng: creds.Range, timeout: 15 * time.Second}, nil
}

// Append adds one row after the last filled row of the configured range.
func (a *Appender) Append(ctx context.Context, values []interface{}) error {
	if a == nil || a.svc == nil {
		return ErrMirrorDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := &gsheets.ValueRange{Values: [][]interface{}{values}}
	_, err := a.svc.Spreadsheets.Values.Append(a.sheetID, a.rng, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", a.sheetID, err)
	}
	return nil
}
