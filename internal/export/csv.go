// Package export renders transactions for use outside the app.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"pesa/internal/core"
)

var Header = []string{"Date", "Category", "Type", "Amount", "Note"}

const DateLayout = "2006-01-02"

var fieldCleaner = strings.NewReplacer(",", "", "\r\n", " ", "\n", " ", "\r", " ")

// clean keeps every record on one line with exactly five columns.
func clean(s string) string {
	return strings.TrimSpace(fieldCleaner.Replace(s))
}

// WriteTransactionsCSV writes a header and one line per transaction.
// Uncategorized transactions have an empty category.
func WriteTransactionsCSV(w io.Writer, txs []core.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range txs {
		rec := []string{
			t.Date.Format(DateLayout),
			clean(t.CategoryName),
			string(t.Type),
			t.Amount.StringFixed(2),
			clean(t.Note),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write transaction %d: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filename is the suggested download name for a month, or for everything
// when period is nil.
func Filename(period *core.Period) string {
	if period == nil {
		return "pesa-transactions.csv"
	}
	return "pesa-transactions-" + period.Start.Format("2006-01") + ".csv"
}
