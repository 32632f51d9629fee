package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
)

// Field names shared by every adapter.
const (
	FieldName          = "name"
	FieldIcon          = "icon"
	FieldColor         = "color"
	FieldType          = "type"
	FieldOwnerID       = "owner_id"
	FieldAmount        = "amount"
	FieldDate          = "date"
	FieldNote          = "note"
	FieldPaymentMethod = "payment_method"
	FieldTags          = "tags"
	FieldCategoryID    = "category_id"
	FieldLimit         = "limit"
	FieldPeriodStart   = "period_start"
	FieldPeriodEnd     = "period_end"
)

// RemoteTransaction is a transaction read from the mirror. Its category is
// still expressed as a remote id.
type RemoteTransaction struct {
	core.Transaction
	CategoryRemoteID string
}

// RemoteBudget is a budget read from the mirror, keyed by category remote id.
type RemoteBudget struct {
	core.Budget
	CategoryRemoteID string
}

func CategoryDocument(c core.Category) Document {
	fields := map[string]any{
		FieldName:  c.Name,
		FieldIcon:  c.Icon,
		FieldColor: c.Color,
		FieldType:  string(c.Type),
	}
	if !c.Owner.IsSystem() {
		fields[FieldOwnerID] = c.Owner.UserID()
	}
	return Document{ID: c.RemoteID, Collection: CollectionCategories, Fields: fields, UpdatedAt: c.UpdatedAt}
}

// TransactionDocument maps t; categoryRemoteID is empty for uncategorized
// transactions.
func TransactionDocument(t core.Transaction, categoryRemoteID string) Document {
	tags := make([]any, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tags = append(tags, tag)
	}
	fields := map[string]any{
		FieldAmount:        core.FormatAmount(t.Amount),
		FieldDate:          t.Date.UnixMilli(),
		FieldNote:          t.Note,
		FieldType:          string(t.Type),
		FieldPaymentMethod: t.PaymentMethod,
		FieldTags:          tags,
	}
	if categoryRemoteID != "" {
		fields[FieldCategoryID] = categoryRemoteID
	}
	return Document{ID: t.RemoteID, Collection: CollectionTransactions, Fields: fields, UpdatedAt: t.UpdatedAt}
}

func BudgetDocument(b core.Budget, categoryRemoteID string) Document {
	return Document{
		ID:         b.RemoteID,
		Collection: CollectionBudgets,
		Fields: map[string]any{
			FieldCategoryID:  categoryRemoteID,
			FieldLimit:       b.Limit.String(),
			FieldPeriodStart: b.PeriodStart.UnixMilli(),
			FieldPeriodEnd:   b.PeriodEnd.UnixMilli(),
		},
		UpdatedAt: b.UpdatedAt,
	}
}

// CategoryFromDocument reports false when a required field is missing or
// malformed; callers skip such documents.
func CategoryFromDocument(doc Document) (core.Category, bool) {
	name, ok := fieldString(doc.Fields, FieldName)
	if !ok || strings.TrimSpace(name) == "" || doc.ID == "" {
		return core.Category{}, false
	}
	typ, ok := fieldString(doc.Fields, FieldType)
	if !ok {
		return core.Category{}, false
	}
	txType, err := core.ParseTxType(typ)
	if err != nil {
		return core.Category{}, false
	}
	c := core.Category{
		RemoteID:  doc.ID,
		Name:      name,
		Type:      txType,
		Owner:     core.SystemDefault(),
		UpdatedAt: doc.UpdatedAt,
	}
	c.Icon, _ = fieldString(doc.Fields, FieldIcon)
	c.Color, _ = fieldString(doc.Fields, FieldColor)
	if owner, ok := fieldString(doc.Fields, FieldOwnerID); ok && owner != "" {
		c.Owner = core.OwnedBy(owner)
	}
	return c, true
}

func TransactionFromDocument(doc Document) (RemoteTransaction, bool) {
	if doc.ID == "" {
		return RemoteTransaction{}, false
	}
	amount, ok := fieldDecimal(doc.Fields, FieldAmount)
	if !ok || !amount.IsPositive() {
		return RemoteTransaction{}, false
	}
	dateMs, ok := fieldInt64(doc.Fields, FieldDate)
	if !ok {
		return RemoteTransaction{}, false
	}
	typ, ok := fieldString(doc.Fields, FieldType)
	if !ok {
		return RemoteTransaction{}, false
	}
	txType, err := core.ParseTxType(typ)
	if err != nil {
		return RemoteTransaction{}, false
	}

	rt := RemoteTransaction{Transaction: core.Transaction{
		RemoteID:  doc.ID,
		Amount:    amount,
		Date:      time.UnixMilli(dateMs).UTC(),
		Type:      txType,
		UpdatedAt: doc.UpdatedAt,
	}}
	rt.Note, _ = fieldString(doc.Fields, FieldNote)
	rt.PaymentMethod, _ = fieldString(doc.Fields, FieldPaymentMethod)
	rt.Tags = fieldStrings(doc.Fields, FieldTags)
	rt.CategoryRemoteID, _ = fieldString(doc.Fields, FieldCategoryID)
	return rt, true
}

func BudgetFromDocument(doc Document) (RemoteBudget, bool) {
	if doc.ID == "" {
		return RemoteBudget{}, false
	}
	catID, ok := fieldString(doc.Fields, FieldCategoryID)
	if !ok || catID == "" {
		return RemoteBudget{}, false
	}
	limit, ok := fieldDecimal(doc.Fields, FieldLimit)
	if !ok || limit.IsNegative() {
		return RemoteBudget{}, false
	}
	rb := RemoteBudget{
		Budget: core.Budget{
			RemoteID:  doc.ID,
			Limit:     limit,
			UpdatedAt: doc.UpdatedAt,
		},
		CategoryRemoteID: catID,
	}
	if ms, ok := fieldInt64(doc.Fields, FieldPeriodStart); ok {
		rb.PeriodStart = time.UnixMilli(ms).UTC()
	}
	if ms, ok := fieldInt64(doc.Fields, FieldPeriodEnd); ok {
		rb.PeriodEnd = time.UnixMilli(ms).UTC()
	}
	return rb, true
}

func fieldString(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// fieldInt64 accepts the numeric shapes produced by JSON decoding and by
// in-memory documents.
func fieldInt64(fields map[string]any, key string) (int64, bool) {
	switch n := fields[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func fieldDecimal(fields map[string]any, key string) (decimal.Decimal, bool) {
	switch n := fields[key].(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func fieldStrings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
