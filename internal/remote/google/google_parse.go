package google

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pesa/internal/remote"
)

func headerRow() []any {
	return []any{"id", "updated_at", "fields"}
}

func formatRow(doc remote.Document) ([]any, error) {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s fields: %w", doc.Collection, doc.ID, err)
	}
	return []any{doc.ID, strconv.FormatInt(doc.UpdatedAt.UnixMilli(), 10), string(fields)}, nil
}

// parseRow converts a values row into a document. Blank rows (left behind
// by deletes) report ok=false without an error. A row with an id but
// unreadable content returns that id with nil Fields alongside the error.
func parseRow(collection string, row []any) (remote.Document, bool, error) {
	cols := toStrings(row)
	if len(cols) == 0 || cols[0] == "" {
		return remote.Document{}, false, nil
	}
	bare := remote.Document{ID: cols[0], Collection: collection}
	if len(cols) < 3 {
		return bare, false, fmt.Errorf("document %s: expected 3 columns, got %d", cols[0], len(cols))
	}
	ms, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return bare, false, fmt.Errorf("document %s: updated_at %q: %w", cols[0], cols[1], err)
	}

	// numbers stay json.Number so large millisecond values survive intact
	dec := json.NewDecoder(bytes.NewReader([]byte(cols[2])))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return bare, false, fmt.Errorf("document %s: fields: %w", cols[0], err)
	}

	return remote.Document{
		ID:         cols[0],
		Collection: collection,
		Fields:     fields,
		UpdatedAt:  time.UnixMilli(ms).UTC(),
	}, true, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
