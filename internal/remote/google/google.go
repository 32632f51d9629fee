package google

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

	"pesa/internal/cache"
	"pesa/internal/remote"
)

// Client mirrors documents into a spreadsheet: one tab per collection, one
// row per document (id, updated_at in ms, JSON fields) below a header row.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string

	// collection -> document id -> 1-based row number
	rows *cache.LRUCache[map[string]int]
	mu   sync.Mutex
}

var _ remote.DocumentStore = (*Client)(nil)

// Config selects the spreadsheet and service account credentials. Inline
// JSON wins over the file; with neither, GOOGLE_APPLICATION_CREDENTIALS is used.
type Config struct {
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		rows:          cache.NewLRUCache[map[string]int](8, 5*time.Minute),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.ServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(cfg.ServiceAccountFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
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

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// EnsureCollections creates missing tabs with their header row.
func (c *Client) EnsureCollections(ctx context.Context, collections ...string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	existing := make(map[string]bool, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			existing[sh.Properties.Title] = true
		}
	}

	var reqs []*gsheet.Request
	var added []string
	for _, name := range collections {
		if existing[name] {
			continue
		}
		reqs = append(reqs, &gsheet.Request{AddSheet: &gsheet.AddSheetRequest{
			Properties: &gsheet.SheetProperties{Title: name},
		}})
		added = append(added, name)
	}
	if len(reqs) == 0 {
		return nil
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheets %v: %w", added, err)
	}
	for _, name := range added {
		vr := &gsheet.ValueRange{Values: [][]any{headerRow()}}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, name+"!A1:C1", vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write %s header: %w", name, err)
		}
	}
	slog.InfoContext(ctx, "Created remote collections", "collections", added)
	return nil
}

// Upsert rewrites the document's row, appending one when it is new.
func (c *Client) Upsert(ctx context.Context, doc remote.Document) error {
	if doc.ID == "" || doc.Collection == "" {
		return errors.New("document needs an id and a collection")
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	row, err := formatRow(doc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.rowIndex(ctx, doc.Collection)
	if err != nil {
		return err
	}
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	if n, ok := index[doc.ID]; ok {
		rng := fmt.Sprintf("%s!A%d:C%d", doc.Collection, n, n)
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			c.rows.Delete(doc.Collection)
			return fmt.Errorf("update %s: %w", rng, err)
		}
		return nil
	}

	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, doc.Collection+"!A:C", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	// the new row number is only known after re-reading the id column
	c.rows.Delete(doc.Collection)
	if err != nil {
		return fmt.Errorf("append to %s: %w", doc.Collection, err)
	}
	return nil
}

// Delete blanks the document's row. Missing documents are ignored.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.rowIndex(ctx, collection)
	if err != nil {
		return err
	}
	n, ok := index[id]
	if !ok {
		return nil
	}
	rng := fmt.Sprintf("%s!A%d:C%d", collection, n, n)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		c.rows.Delete(collection)
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	delete(index, id)
	return nil
}

// List reads every document of a collection. Rows that cannot be parsed
// are logged and returned with their id only, so callers still see them as
// present.
func (c *Client) List(ctx context.Context, collection string) ([]remote.Document, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := collection + "!A2:C"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make([]remote.Document, 0, len(resp.Values))
	for i, raw := range resp.Values {
		doc, ok, err := parseRow(collection, raw)
		if err != nil {
			slog.WarnContext(ctx, "Malformed remote row",
				"collection", collection, "row", i+2, "error", err)
			if doc.ID != "" {
				out = append(out, doc)
			}
			continue
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// rowIndex maps document ids to row numbers. Callers hold c.mu.
func (c *Client) rowIndex(ctx context.Context, collection string) (map[string]int, error) {
	if idx, ok := c.rows.Get(collection); ok {
		return idx, nil
	}
	rng := collection + "!A:A"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	idx := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		// row 1 is the header
		if i == 0 || len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id != "" {
			idx[id] = i + 1
		}
	}
	c.rows.Set(collection, idx)
	return idx, nil
}
