package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pesa/internal/core"
)

func TestCategoryDocument_RoundTrip(t *testing.T) {
	updated := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	c := core.Category{RemoteID: "c-1", Name: "Food", Icon: "restaurant", Color: "#FF7043", Type: core.Expense, Owner: core.OwnedBy("u1"), UpdatedAt: updated}

	doc := CategoryDocument(c)
	assert.Equal(t, CollectionCategories, doc.Collection)

	got, ok := CategoryFromDocument(doc)
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestTransactionFromDocument_AfterJSON(t *testing.T) {
	date := time.Date(2024, 4, 2, 13, 0, 0, 0, time.UTC)
	tx := core.Transaction{
		RemoteID: "t-1",
		Amount:   decimal.RequireFromString("1250.5"),
		Date:     date,
		Note:     "lunch",
		Type:     core.Expense,
		Tags:     []string{"work"},
	}
	doc := TransactionDocument(tx, "c-1")

	// documents usually come back through JSON, where numbers become float64
	raw, err := json.Marshal(doc.Fields)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	doc.Fields = fields

	got, ok := TransactionFromDocument(doc)
	require.True(t, ok)
	assert.Equal(t, "c-1", got.CategoryRemoteID)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.True(t, got.Date.Equal(date))
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.Equal(t, core.Expense, got.Type)
}

func TestFromDocument_MissingRequiredFieldsAreSkipped(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		doc  Document
		read func(Document) bool
	}{
		{
			name: "category without name",
			doc:  Document{ID: "c", Fields: map[string]any{FieldType: "EXPENSE"}},
			read: func(d Document) bool { _, ok := CategoryFromDocument(d); return ok },
		},
		{
			name: "category with bad type",
			doc:  Document{ID: "c", Fields: map[string]any{FieldName: "Food", FieldType: "BOTH"}},
			read: func(d Document) bool { _, ok := CategoryFromDocument(d); return ok },
		},
		{
			name: "transaction without amount",
			doc:  Document{ID: "t", Fields: map[string]any{FieldDate: int64(1), FieldType: "INCOME"}},
			read: func(d Document) bool { _, ok := TransactionFromDocument(d); return ok },
		},
		{
			name: "transaction without date",
			doc:  Document{ID: "t", Fields: map[string]any{FieldAmount: "10", FieldType: "INCOME"}},
			read: func(d Document) bool { _, ok := TransactionFromDocument(d); return ok },
		},
		{
			name: "transaction with zero amount",
			doc:  Document{ID: "t", Fields: map[string]any{FieldAmount: "0", FieldDate: int64(1), FieldType: "INCOME"}},
			read: func(d Document) bool { _, ok := TransactionFromDocument(d); return ok },
		},
		{
			name: "budget without category",
			doc:  Document{ID: "b", Fields: map[string]any{FieldLimit: "100"}},
			read: func(d Document) bool { _, ok := BudgetFromDocument(d); return ok },
		},
		{
			name: "document without id",
			doc:  Document{Fields: map[string]any{FieldCategoryID: "c", FieldLimit: "100"}},
			read: func(d Document) bool { _, ok := BudgetFromDocument(d); return ok },
		},
		{
			name: "complete budget",
			ok:   true,
			doc:  Document{ID: "b", Fields: map[string]any{FieldCategoryID: "c", FieldLimit: float64(5000)}},
			read: func(d Document) bool { _, ok := BudgetFromDocument(d); return ok },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.read(tt.doc))
		})
	}
}

func TestBudgetDocument(t *testing.T) {
	p := core.MonthPeriod(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	b := core.Budget{RemoteID: "b-1", Limit: decimal.NewFromInt(5000), PeriodStart: p.Start, PeriodEnd: p.End}

	got, ok := BudgetFromDocument(BudgetDocument(b, "c-9"))
	require.True(t, ok)
	assert.Equal(t, "c-9", got.CategoryRemoteID)
	assert.True(t, got.Limit.Equal(b.Limit))
	assert.True(t, got.PeriodEnd.Equal(p.End))
}
