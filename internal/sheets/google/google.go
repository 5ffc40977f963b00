package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"ainopay/internal/config"
	"ainopay/internal/core"
	ports "ainopay/internal/sheets"

	"github.com/google/uuid"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	mu      sync.Mutex
	sheetID *int64
}

// Ensure interface conformance
var _ ports.PaymentMirror = (*Client)(nil)

// NewFromConfig creates a Sheets client with service account credentials
// taken from cfg (inline JSON, then file, then GOOGLE_APPLICATION_CREDENTIALS).
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.GoogleSpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	creds, err := credentialsJSON(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully",
		"spreadsheet_id", spreadsheetID,
		"sheet", cfg.GoogleSheetName)
	return New(svc, spreadsheetID, cfg.GoogleSheetName), nil
}

// New wraps an existing service. sheetName defaults to "Payments".
func New(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = "Payments"
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// NewWithEndpoint builds a client against a custom API endpoint without
// authentication, for emulators and tests.
func NewWithEndpoint(ctx context.Context, endpoint, spreadsheetID, sheetName string) (*Client, error) {
	svc, err := gsheet.NewService(ctx,
		goption.WithEndpoint(endpoint),
		goption.WithHTTPClient(newHTTPClientWithPooling()),
		goption.WithoutAuthentication())
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheetName), nil
}

func credentialsJSON(ctx context.Context, cfg *config.Config) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.GoogleServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(cfg.GoogleServiceAccountFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(cfg.GoogleApplicationCredFile)
	}

	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Upsert rewrites the payment's row in place, or appends one. The header
// row is written first when the sheet is empty.
func (c *Client) Upsert(ctx context.Context, p core.Payment) (string, error) {
	if p.ID == uuid.Nil {
		return "", errors.New("payment id is required")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	ids, err := c.readIDs(ctx)
	if err != nil {
		return "", err
	}

	row := findRow(ids, p.ID.String())
	if row == 0 {
		if len(ids) == 0 {
			if err := c.writeRow(ctx, 1, ports.Header); err != nil {
				return "", fmt.Errorf("write header: %w", err)
			}
			ids = [][]any{{ports.Header[0]}}
		}
		row = len(ids) + 1
	}

	if err := c.writeRow(ctx, row, ports.Row(p)); err != nil {
		return "", err
	}
	return rowRef(c.sheetName, row), nil
}

// Remove deletes the payment's row.
func (c *Client) Remove(ctx context.Context, paymentID uuid.UUID) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	ids, err := c.readIDs(ctx)
	if err != nil {
		return err
	}
	row := findRow(ids, paymentID.String())
	if row == 0 {
		slog.InfoContext(ctx, "Payment row not found in sheet, nothing to delete", "payment_id", paymentID)
		return nil
	}

	sheetID, err := c.lookupSheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in sheet %s: %w", row, c.sheetName, err)
	}

	slog.InfoContext(ctx, "Deleted payment row", "payment_id", paymentID, "sheet_row", row)
	return nil
}

func (c *Client) readIDs(ctx context.Context) ([][]any, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) writeRow(ctx context.Context, row int, cells []string) error {
	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn(len(cells)), row)
	vr := &gsheet.ValueRange{Values: [][]any{toAny(cells)}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// lookupSheetID resolves the numeric id of the mirror sheet once.
func (c *Client) lookupSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sheetID != nil {
		return *c.sheetID, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet properties: %w", err)
	}
	props := make([]*gsheet.SheetProperties, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		props = append(props, s.Properties)
	}
	id, ok := sheetIDByTitle(props, c.sheetName)
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", c.sheetName)
	}
	c.sheetID = &id
	return id, nil
}
