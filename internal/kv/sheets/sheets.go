// Package sheets stores ledger slots in a Google spreadsheet: one row per
// slot, column A holds the slot name, column B the JSON document and column
// C the time of the last write.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"aidat/internal/kv"
)

// DefaultSheetName is used when Options.SheetName is empty.
const DefaultSheetName = "Aidat"

// Options configures the Sheets client. Credentials are resolved from
// CredentialsJSON, then CredentialsFile, then GOOGLE_APPLICATION_CREDENTIALS.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// valuesAPI is the subset of the Sheets values API the store needs.
type valuesAPI interface {
	get(ctx context.Context, rng string) ([][]any, error)
	update(ctx context.Context, rng string, values [][]any) error
}

type Client struct {
	api   valuesAPI
	sheet string
	now   func() time.Time

	// rows caches slot -> 1-based row number; a slot never moves once written.
	mu   sync.Mutex
	rows map[kv.Slot]int
}

var _ kv.Store = (*Client)(nil)

// New creates a Sheets-backed store authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&serviceValues{svc: svc, spreadsheetID: opts.SpreadsheetID}, opts.SheetName), nil
}

func newClient(api valuesAPI, sheet string) *Client {
	sheet = strings.TrimSpace(sheet)
	if sheet == "" {
		sheet = DefaultSheetName
	}
	return &Client{api: api, sheet: sheet, now: time.Now, rows: map[kv.Slot]int{}}
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	credentialsFile := strings.TrimSpace(opts.CredentialsFile)
	if opts.CredentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case opts.CredentialsJSON != "":
		credentialsJSON = []byte(opts.CredentialsJSON)
	case credentialsFile != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// Get returns the JSON document stored for slot.
func (c *Client) Get(ctx context.Context, slot kv.Slot) ([]byte, bool, error) {
	values, err := c.api.get(ctx, fmt.Sprintf("%s!A:B", c.sheet))
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", slot, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, row := range values {
		if len(row) == 0 || cell(row, 0) != string(slot) {
			continue
		}
		c.rows[slot] = i + 1
		value := cell(row, 1)
		if value == "" {
			return nil, false, nil
		}
		return []byte(value), true, nil
	}
	return nil, false, nil
}

// Set writes the document for slot, appending a row the first time.
func (c *Client) Set(ctx context.Context, slot kv.Slot, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row, ok := c.rows[slot]
	if !ok {
		values, err := c.api.get(ctx, fmt.Sprintf("%s!A:A", c.sheet))
		if err != nil {
			return fmt.Errorf("locate %s: %w", slot, err)
		}
		row = len(values) + 1
		for i, r := range values {
			if cell(r, 0) == string(slot) {
				row = i + 1
				break
			}
		}
	}

	rng := fmt.Sprintf("%s!A%d:C%d", c.sheet, row, row)
	stamp := c.now().UTC().Format(time.RFC3339)
	if err := c.api.update(ctx, rng, [][]any{{string(slot), string(value), stamp}}); err != nil {
		return fmt.Errorf("write %s to %s: %w", slot, rng, err)
	}
	c.rows[slot] = row
	return nil
}

func cell(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

type serviceValues struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (s *serviceValues) get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceValues) update(ctx context.Context, rng string, values [][]any) error {
	vr := &gsheet.ValueRange{Values: values}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}
