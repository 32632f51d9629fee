package google

import "testing"

// NewFakeClient exposes the in-process Sheets fake to external tests.
func NewFakeClient(t *testing.T) (*Client, *fakeSheets) {
	return newFakeClient(t)
}

// SetCell overwrites one cell; row and col follow the sheet, row 1 being the
// header and col 0 the id column.
func (f *fakeSheets) SetCell(tab string, row, col int, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tab][row-1][col] = v
}
