package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
)

// SpendByCategory sums the amounts of every categorized transaction dated
// inside the period. Amounts are stored as text, so summing happens here in
// decimal rather than in SQL floating point.
func (r *SQLiteRepository) SpendByCategory(ctx context.Context, period core.Period) (map[int64]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, amount FROM transactions
		WHERE category_id IS NOT NULL AND date_ms BETWEEN ? AND ?`,
		toMillis(period.Start), toMillis(period.End))
	if err != nil {
		return nil, fmt.Errorf("query spend by category: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			categoryID int64
			amount     string
		)
		if err := rows.Scan(&categoryID, &amount); err != nil {
			return nil, fmt.Errorf("scan spend row: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("spend amount %q: %w", amount, err)
		}
		totals[categoryID] = totals[categoryID].Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spend rows: %w", err)
	}
	return totals, nil
}

// MonthOverview totals income and expense inside month (see core.MonthPeriod),
// broken down by category name. Uncategorized rows are grouped under "".
func (r *SQLiteRepository) MonthOverview(ctx context.Context, month core.Period) (core.MonthOverview, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.type, COALESCE(c.name, ''), t.amount
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.date_ms BETWEEN ? AND ?`,
		toMillis(month.Start), toMillis(month.End))
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("query month overview: %w", err)
	}
	defer rows.Close()

	ov := core.MonthOverview{
		Year:    month.Start.Year(),
		Month:   int(month.Start.Month()),
		Income:  decimal.Zero,
		Expense: decimal.Zero,
	}
	type key struct {
		name string
		typ  core.TxType
	}
	byCat := make(map[key]decimal.Decimal)
	for rows.Next() {
		var (
			typ    string
			name   sql.NullString
			amount string
		)
		if err := rows.Scan(&typ, &name, &amount); err != nil {
			return core.MonthOverview{}, fmt.Errorf("scan overview row: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return core.MonthOverview{}, fmt.Errorf("overview amount %q: %w", amount, err)
		}
		t := core.TxType(typ)
		switch t {
		case core.Income:
			ov.Income = ov.Income.Add(d)
		case core.Expense:
			ov.Expense = ov.Expense.Add(d)
		}
		k := key{name: name.String, typ: t}
		byCat[k] = byCat[k].Add(d)
	}
	if err := rows.Err(); err != nil {
		return core.MonthOverview{}, fmt.Errorf("iterate overview rows: %w", err)
	}

	for k, amt := range byCat {
		ov.ByCategory = append(ov.ByCategory, core.CategoryAmount{Name: k.name, Type: k.typ, Amount: amt})
	}
	// largest first, then by name for a stable report
	sort.Slice(ov.ByCategory, func(i, j int) bool {
		a, b := ov.ByCategory[i], ov.ByCategory[j]
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Type < b.Type
	})
	return ov, nil
}
