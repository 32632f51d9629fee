package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"pesa/internal/auth"
	"pesa/internal/core"
	"pesa/internal/currency"
)

type (
	credentialsRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name,omitempty"`
	}

	googleRequest struct {
		IDToken string `json:"id_token"`
	}

	categoryRequest struct {
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color"`
		Type  string `json:"type"`
	}

	// transactionRequest takes the amount as a JSON number or numeric string.
	// With DisplayCurrency set the amount is in the user's display currency and
	// is converted to the base currency before saving.
	transactionRequest struct {
		Amount          json.Number `json:"amount"`
		Date            string      `json:"date"`
		Note            string      `json:"note"`
		Type            string      `json:"type"`
		PaymentMethod   string      `json:"payment_method"`
		Tags            []string    `json:"tags"`
		CategoryID      *int64      `json:"category_id"`
		Category        string      `json:"category"`
		DisplayCurrency bool        `json:"display_currency"`
	}

	budgetRequest struct {
		Limit json.Number `json:"limit"`
	}

	themeRequest struct {
		Theme string `json:"theme"`
	}

	currencyRequest struct {
		Code string `json:"code"`
	}
)

type (
	userJSON struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}

	sessionJSON struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      userJSON  `json:"user"`
	}

	categoryJSON struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Icon      string    `json:"icon,omitempty"`
		Color     string    `json:"color,omitempty"`
		Type      string    `json:"type"`
		System    bool      `json:"system"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	transactionJSON struct {
		ID            int64     `json:"id"`
		Amount        string    `json:"amount"`
		Date          time.Time `json:"date"`
		Note          string    `json:"note,omitempty"`
		Type          string    `json:"type"`
		PaymentMethod string    `json:"payment_method,omitempty"`
		Tags          []string  `json:"tags"`
		CategoryID    *int64    `json:"category_id"`
		CategoryName  string    `json:"category,omitempty"`
		UpdatedAt     time.Time `json:"updated_at"`
	}

	budgetJSON struct {
		ID          int64     `json:"id"`
		CategoryID  int64     `json:"category_id"`
		Limit       string    `json:"limit"`
		PeriodStart time.Time `json:"period_start"`
		PeriodEnd   time.Time `json:"period_end"`
	}

	displayJSON struct {
		Currency  string `json:"currency"`
		Spent     string `json:"spent"`
		Limit     string `json:"limit"`
		Remaining string `json:"remaining"`
	}

	budgetStateJSON struct {
		CategoryID   int64        `json:"category_id"`
		CategoryName string       `json:"category"`
		Color        string       `json:"color,omitempty"`
		Spent        string       `json:"spent"`
		Limit        string       `json:"limit"`
		Remaining    string       `json:"remaining"`
		PercentUsed  float64      `json:"percent_used"`
		NearLimit    bool         `json:"near_limit"`
		OverBudget   bool         `json:"over_budget"`
		Display      *displayJSON `json:"display,omitempty"`
	}

	categoryAmountJSON struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}

	overviewJSON struct {
		Year       int                  `json:"year"`
		Month      int                  `json:"month"`
		Income     string               `json:"income"`
		Expense    string               `json:"expense"`
		Net        string               `json:"net"`
		ByCategory []categoryAmountJSON `json:"by_category"`
	}

	notificationJSON struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
		Read      bool      `json:"read"`
		Type      string    `json:"type"`
	}

	currencyJSON struct {
		Code   string `json:"code"`
		Symbol string `json:"symbol"`
		Rate   string `json:"rate"`
	}
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func toSessionJSON(s auth.Session) sessionJSON {
	return sessionJSON{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      userJSON{ID: s.User.ID, Email: s.User.Email, Name: s.User.DisplayName},
	}
}

func toCategoryJSON(c core.Category) categoryJSON {
	return categoryJSON{
		ID:        c.ID,
		Name:      c.Name,
		Icon:      c.Icon,
		Color:     c.Color,
		Type:      string(c.Type),
		System:    c.Owner.IsSystem(),
		UpdatedAt: c.UpdatedAt,
	}
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return transactionJSON{
		ID:            t.ID,
		Amount:        money(t.Amount),
		Date:          t.Date,
		Note:          t.Note,
		Type:          string(t.Type),
		PaymentMethod: t.PaymentMethod,
		Tags:          tags,
		CategoryID:    t.CategoryID,
		CategoryName:  t.CategoryName,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toBudgetJSON(b core.Budget) budgetJSON {
	return budgetJSON{
		ID:          b.ID,
		CategoryID:  b.CategoryID,
		Limit:       money(b.Limit),
		PeriodStart: b.PeriodStart,
		PeriodEnd:   b.PeriodEnd,
	}
}

// toBudgetStatesJSON renders states in the base currency. A non-nil pref
// adds amounts converted for display.
func toBudgetStatesJSON(states []core.BudgetState, pref *core.CurrencyPreference) []budgetStateJSON {
	out := make([]budgetStateJSON, 0, len(states))
	for _, s := range states {
		v := budgetStateJSON{
			CategoryID:   s.Category.ID,
			CategoryName: s.Category.Name,
			Color:        s.Category.Color,
			Spent:        money(s.Spent),
			Limit:        money(s.Limit),
			Remaining:    money(s.Remaining()),
			PercentUsed:  s.PercentUsed,
			NearLimit:    s.IsNearLimit(),
			OverBudget:   s.IsOverBudget(),
		}
		if pref != nil {
			v.Display = &displayJSON{
				Currency:  pref.Code,
				Spent:     currency.Display(s.Spent, pref.Rate, pref.Symbol),
				Limit:     currency.Display(s.Limit, pref.Rate, pref.Symbol),
				Remaining: currency.Display(s.Remaining(), pref.Rate, pref.Symbol),
			}
		}
		out = append(out, v)
	}
	return out
}

func toOverviewJSON(o core.MonthOverview) overviewJSON {
	rows := make([]categoryAmountJSON, 0, len(o.ByCategory))
	for _, c := range o.ByCategory {
		rows = append(rows, categoryAmountJSON{Name: c.Name, Type: string(c.Type), Amount: money(c.Amount)})
	}
	return overviewJSON{
		Year:       o.Year,
		Month:      o.Month,
		Income:     money(o.Income),
		Expense:    money(o.Expense),
		Net:        money(o.Net()),
		ByCategory: rows,
	}
}

func toNotificationJSON(n core.Notification) notificationJSON {
	return notificationJSON{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Timestamp: n.Timestamp,
		Read:      n.Read,
		Type:      string(n.Type),
	}
}

func toCurrencyJSON(p core.CurrencyPreference) currencyJSON {
	return currencyJSON{Code: p.Code, Symbol: p.Symbol, Rate: p.Rate.String()}
}
