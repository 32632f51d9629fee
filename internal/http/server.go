package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/olahol/melody"

	"pesa/internal/auth"
	"pesa/internal/core"
	"pesa/internal/currency"
	"pesa/internal/log"
	"pesa/internal/middleware/ratelimit"
	"pesa/internal/middleware/security"
	"pesa/internal/middleware/trace"
	"pesa/internal/services"
)

// BudgetComputer derives the current month's budget states.
type BudgetComputer interface {
	Compute(ctx context.Context, now time.Time) ([]core.BudgetState, error)
}

// PreferenceStore is the key-value store behind user preferences.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Pinger reports whether local storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API serves. Currency may be nil, in which
// case display conversion and the currency endpoints are unavailable.
type Deps struct {
	Ledger      *services.LedgerService
	Auth        *auth.Service
	Currency    *currency.Service
	Budgets     BudgetComputer
	Preferences PreferenceStore
	Storage     Pinger
	Logger      *log.Logger

	RateLimitPerMinute int
}

type Server struct {
	http.Server
	deps Deps

	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	ws       *melody.Melody
	now      func() time.Time
	started  time.Time

	mu          sync.RWMutex
	lastBudgets []byte

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	detector := security.NewDetector(logger)

	s := &Server{
		deps:     deps,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP, logger),
		ws:       newBudgetSocket(logger),
		now:      time.Now,
		started:  time.Now(),
	}
	s.ws.HandleConnect(s.sendLatestBudgets)

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, detector.ExtractClientIP(r), log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/google", s.handleGoogle)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireAuth(h, false))
	}

	protected("GET /api/categories", s.handleListCategories)
	protected("POST /api/categories", s.handleCreateCategory)
	protected("PUT /api/categories/{id}", s.handleUpdateCategory)
	protected("DELETE /api/categories/{id}", s.handleDeleteCategory)

	protected("GET /api/transactions", s.handleListTransactions)
	protected("POST /api/transactions", s.handleCreateTransaction)
	protected("GET /api/transactions/export.csv", s.handleExportTransactions)
	protected("GET /api/transactions/{id}", s.handleGetTransaction)
	protected("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	protected("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	protected("GET /api/budgets", s.handleListBudgets)
	protected("PUT /api/budgets/{categoryID}", s.handleSetBudget)
	protected("DELETE /api/budgets/{categoryID}", s.handleDeleteBudget)
	protected("GET /api/reports/monthly", s.handleMonthlyReport)

	protected("GET /api/notifications", s.handleListNotifications)
	protected("POST /api/notifications/read-all", s.handleReadAllNotifications)

	protected("GET /api/preferences/theme", s.handleGetTheme)
	protected("PUT /api/preferences/theme", s.handleSetTheme)
	protected("GET /api/preferences/currency", s.handleGetCurrency)
	protected("PUT /api/preferences/currency", s.handleSetCurrency)

	mux.Handle("GET /ws/budgets", s.requireAuth(s.handleBudgetsSocket, true))
}

type ctxKey string

const userIDKey ctxKey = "user_id"

// requireAuth rejects requests without a valid session token and stores the
// user id in the request context.
func (s *Server) requireAuth(next http.HandlerFunc, allowQueryToken bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r, allowQueryToken)
		if token == "" {
			UnauthorizedError("Sign in required").Write(w)
			return
		}
		userID, err := s.deps.Auth.ParseToken(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// writeError maps err to a JSON response, logging anything unexpected.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp, expected := ErrorFor(err)
	if !expected {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path, log.FieldError, err)
	}
	resp.Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	}).Write(w)
}

// handleReady verifies storage and reports middleware state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if s.deps.Storage == nil {
		checks["storage"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.deps.Storage.Ping(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	traceMetrics := s.tracer.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"rejected":       s.limiter.Rejected(),
	}
	checks["security"] = map[string]any{
		"suspicious": securityMetrics.SuspiciousRequests,
		"blocked":    securityMetrics.BlockedRequests,
	}
	checks["requests"] = map[string]any{
		"total":           traceMetrics.TotalRequests,
		"server_errors":   traceMetrics.ServerErrors,
		"last_latency_us": traceMetrics.LastLatencyUs,
	}
	checks["websocket_sessions"] = s.ws.Len()

	NewJSONResponse().Status(code).Data(map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		if err := s.ws.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
			s.logger.WarnContext(ctx, "Closing websocket sessions failed", log.FieldError, err)
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
