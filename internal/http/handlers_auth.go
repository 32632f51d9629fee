package http

import (
	"net/http"

	"pesa/internal/auth"
)

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	sess, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password, sanitizeInput(req.Name))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toSessionJSON(sess)).Write(w)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	sess, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	s.writeSession(w, r, sess, err)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := DecodeJSON(r, w, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	sess, err := s.deps.Auth.SignInWithGoogle(r.Context(), req.IDToken)
	s.writeSession(w, r, sess, err)
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, sess auth.Session, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(toSessionJSON(sess)).Write(w)
}
