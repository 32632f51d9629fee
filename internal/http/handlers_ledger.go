package http

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
	"pesa/internal/currency"
	"pesa/internal/export"
	"pesa/internal/log"
	"pesa/internal/services"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Ledger.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryJSON(c))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) decodeCategory(w http.ResponseWriter, r *http.Request) (core.Category, bool) {
	var req categoryRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return core.Category{}, false
	}
	typ, err := core.ParseTxType(req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return core.Category{}, false
	}
	return core.Category{
		Name:  sanitizeInput(req.Name),
		Icon:  sanitizeInput(req.Icon),
		Color: sanitizeInput(req.Color),
		Type:  typ,
		Owner: core.OwnedBy(userIDFrom(r.Context())),
	}, true
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCategory(w, r)
	if !ok {
		return
	}
	saved, err := s.deps.Ledger.CreateCategory(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toCategoryJSON(saved)).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c, ok := s.decodeCategory(w, r)
	if !ok {
		return
	}
	c.ID = id
	saved, err := s.deps.Ledger.UpdateCategory(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toCategoryJSON(saved)).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Ledger.DeleteCategory(r.Context(), id, userIDFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now().Location())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	txs, err := s.deps.Ledger.ListTransactions(r.Context(), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	t, err := s.deps.Ledger.GetTransaction(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toTransactionJSON(t)).Write(w)
}

// decodeTransaction turns the request body into service input. Missing
// dates default to now.
func (s *Server) decodeTransaction(w http.ResponseWriter, r *http.Request) (services.TransactionInput, bool) {
	var req transactionRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return services.TransactionInput{}, false
	}
	date, err := ParseDate(req.Date, s.now().Location())
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return services.TransactionInput{}, false
	}
	if date.IsZero() {
		date = s.now()
	}

	amount := req.Amount.String()
	if req.DisplayCurrency && s.deps.Currency != nil && amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			s.writeError(w, r, core.ErrInvalidAmount)
			return services.TransactionInput{}, false
		}
		pref, err := s.deps.Currency.Current(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return services.TransactionInput{}, false
		}
		amount = currency.ToBase(d, pref.Rate).Round(2).String()
	}

	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		tags = append(tags, sanitizeInput(t))
	}
	return services.TransactionInput{
		Amount:        amount,
		Date:          date,
		Note:          sanitizeInput(req.Note),
		Type:          req.Type,
		PaymentMethod: sanitizeInput(req.PaymentMethod),
		Tags:          tags,
		CategoryID:    req.CategoryID,
		CategoryName:  sanitizeInput(req.Category),
	}, true
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeTransaction(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Ledger.AddTransaction(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toTransactionJSON(t)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	in, ok := s.decodeTransaction(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Ledger.UpdateTransaction(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toTransactionJSON(t)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Ledger.DeleteTransaction(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleExportTransactions streams the ledger as CSV, optionally limited
// to ?month=YYYY-MM.
func (s *Server) handleExportTransactions(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now().Location())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	txs, err := s.deps.Ledger.ListTransactions(r.Context(), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteTransactionsCSV(&buf, txs); err != nil {
		s.writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transactions exported",
		log.FieldOperation, log.OpExport, "count", len(txs))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(period)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
