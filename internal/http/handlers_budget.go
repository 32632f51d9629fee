package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pesa/internal/core"
	"pesa/internal/storage"
)

const defaultNotificationLimit = 50

// handleListBudgets returns one state per category for the current month.
// ?currency=display adds amounts converted to the display currency.
func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.Budgets.Compute(r.Context(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var pref *core.CurrencyPreference
	if r.URL.Query().Get("currency") == "display" && s.deps.Currency != nil {
		p, err := s.deps.Currency.Current(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		pref = &p
	}
	NewJSONResponse().Data(toBudgetStatesJSON(states, pref)).Write(w)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	categoryID, err := ParseIDParam(r, "categoryID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req budgetRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	b, err := s.deps.Ledger.SetBudget(r.Context(), categoryID, req.Limit.String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toBudgetJSON(b)).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	categoryID, err := ParseIDParam(r, "categoryID")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Ledger.DeleteBudget(r.Context(), categoryID); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	p := ParseMonthParams(r.URL.Query(), s.now())
	ov, err := s.deps.Ledger.Overview(r.Context(), p.Year, p.Month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toOverviewJSON(ov)).Write(w)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			BadRequestError("limit must be between 1 and 500").Write(w)
			return
		}
		limit = n
	}
	list, err := s.deps.Ledger.Notifications(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unread, err := s.deps.Ledger.UnreadNotifications(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]notificationJSON, 0, len(list))
	for _, n := range list {
		out = append(out, toNotificationJSON(n))
	}
	NewJSONResponse().Data(map[string]any{"unread": unread, "notifications": out}).Write(w)
}

func (s *Server) handleReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Ledger.MarkNotificationsRead(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"marked": n}).Write(w)
}

// handleGetTheme reports SYSTEM until a theme has been chosen.
func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme := core.ThemeSystem
	v, err := s.deps.Preferences.GetPreference(r.Context(), storage.PrefTheme)
	switch {
	case err == nil:
		if t, perr := core.ParseTheme(v); perr == nil {
			theme = t
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(themeRequest{Theme: string(theme)}).Write(w)
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	theme, err := core.ParseTheme(req.Theme)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Preferences.SetPreference(r.Context(), storage.PrefTheme, string(theme)); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(themeRequest{Theme: string(theme)}).Write(w)
}

func (s *Server) handleGetCurrency(w http.ResponseWriter, r *http.Request) {
	if s.deps.Currency == nil {
		ServiceUnavailableError("Currency service is not configured").Write(w)
		return
	}
	pref, err := s.deps.Currency.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toCurrencyJSON(pref)).Write(w)
}

func (s *Server) handleSetCurrency(w http.ResponseWriter, r *http.Request) {
	if s.deps.Currency == nil {
		ServiceUnavailableError("Currency service is not configured").Write(w)
		return
	}
	var req currencyRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	pref, err := s.deps.Currency.SetCurrency(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toCurrencyJSON(pref)).Write(w)
}
