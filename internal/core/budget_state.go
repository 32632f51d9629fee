package core

import "github.com/shopspring/decimal"

const (
	NearLimitPercent = 90.0
	OverLimitPercent = 100.0
)

// BudgetState is the derived view of one category for a budget period. It is
// never persisted.
type BudgetState struct {
	Category    Category
	Spent       decimal.Decimal
	Limit       decimal.Decimal
	PercentUsed float64
}

// NewBudgetState derives PercentUsed. A category without a limit reports 0%
// whatever it spent. The value is not clamped and can exceed 100.
func NewBudgetState(c Category, spent, limit decimal.Decimal) BudgetState {
	var pct float64
	if limit.IsPositive() {
		pct = spent.Div(limit).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return BudgetState{
		Category:    c,
		Spent:       spent,
		Limit:       limit,
		PercentUsed: pct,
	}
}

func (s BudgetState) IsNearLimit() bool {
	return s.PercentUsed >= NearLimitPercent && s.PercentUsed < OverLimitPercent
}

func (s BudgetState) IsOverBudget() bool {
	return s.PercentUsed >= OverLimitPercent
}

// Remaining is limit minus spent; negative when over budget.
func (s BudgetState) Remaining() decimal.Decimal {
	return s.Limit.Sub(s.Spent)
}
