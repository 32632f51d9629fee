package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is an inclusive instant range.
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar month containing t: from the first
// instant of the month to its last millisecond, in t's location.
func MonthPeriod(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return Period{Start: start, End: end}
}

// Contains reports whether t falls inside the period, bounds included.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Type   TxType
	Amount decimal.Decimal
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Income     decimal.Decimal
	Expense    decimal.Decimal
	ByCategory []CategoryAmount
}

// Net is income minus expense.
func (o MonthOverview) Net() decimal.Decimal {
	return o.Income.Sub(o.Expense)
}
