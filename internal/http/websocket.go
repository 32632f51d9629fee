package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/olahol/melody"

	"pesa/internal/budget"
	"pesa/internal/log"
)

// budgetsMessage is pushed to every /ws/budgets client after each
// recomputation.
type budgetsMessage struct {
	Type    string            `json:"type"`
	At      time.Time         `json:"at"`
	Budgets []budgetStateJSON `json:"budgets"`
}

func newBudgetSocket(logger *log.Logger) *melody.Melody {
	wsLogger := logger.WithComponent(log.ComponentWebsocket)
	m := melody.New()
	m.Config.MaxMessageSize = 512
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleDisconnect(func(s *melody.Session) {
		userID, _ := s.Get(string(userIDKey))
		wsLogger.Debug("Budget feed client disconnected", log.FieldUserID, userID)
	})
	m.HandleError(func(s *melody.Session, err error) {
		wsLogger.Warn("Budget feed session error", log.FieldError, err)
	})
	return m
}

// handleBudgetsSocket upgrades to a websocket subscribed to budget updates
// for as long as the connection lives.
func (s *Server) handleBudgetsSocket(w http.ResponseWriter, r *http.Request) {
	keys := map[string]any{string(userIDKey): userIDFrom(r.Context())}
	if err := s.ws.HandleRequestWithKeys(w, r, keys); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Websocket upgrade failed", log.FieldError, err)
	}
}

// sendLatestBudgets gives a new client the last snapshot instead of making
// it wait for the next change.
func (s *Server) sendLatestBudgets(sess *melody.Session) {
	s.mu.RLock()
	msg := s.lastBudgets
	s.mu.RUnlock()
	if msg != nil {
		_ = sess.Write(msg)
	}
}

// RunBudgetFeed broadcasts every successful update until ctx ends or the
// channel closes. Failed computations are skipped; clients keep the last
// good snapshot.
func (s *Server) RunBudgetFeed(ctx context.Context, updates <-chan budget.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				continue
			}
			if err := s.BroadcastBudgets(u); err != nil {
				s.logger.WarnContext(ctx, "Budget broadcast failed", log.FieldError, err)
			}
		}
	}
}

// BroadcastBudgets sends u to every connected client and remembers it for
// clients that connect later.
func (s *Server) BroadcastBudgets(u budget.Update) error {
	msg, err := json.Marshal(budgetsMessage{
		Type:    "budgets",
		At:      u.At,
		Budgets: toBudgetStatesJSON(u.States, nil),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastBudgets = msg
	s.mu.Unlock()
	if s.ws.IsClosed() {
		return nil
	}
	return s.ws.Broadcast(msg)
}
