// Package auth signs users in with email and password or a Google ID token
// and issues session tokens for the HTTP API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pesa/internal/log"
	"pesa/internal/storage"
)

const MinPasswordLength = 6

const (
	msgInvalidEmail     = "Enter a valid email address"
	msgShortPassword    = "Password must be at least 6 characters"
	msgBadCredentials   = "Incorrect email or password"
	msgEmailTaken       = "An account with this email already exists"
	msgGoogleFailed     = "Google sign-in failed"
	msgGoogleDisabled   = "Google sign-in is not configured"
	msgSessionInvalid   = "Session expired, sign in again"
	msgUnexpectedFailed = "Sign-in failed, try again later"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrGoogleUnavailable  = errors.New("google verifier not configured")
	ErrGoogleRejected     = errors.New("google identity rejected")
	ErrInvalidToken       = errors.New("invalid session token")
)

// Failure is the single outcome of a failed sign-in attempt. Message is safe
// to show to the user.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Message
	}
	return f.Message + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(msg string, err error) *Failure { return &Failure{Message: msg, Err: err} }

// UserStore is the slice of storage auth needs.
type UserStore interface {
	CreateUser(ctx context.Context, u storage.User) (storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	GetUserByGoogleSubject(ctx context.Context, subject string) (storage.User, error)
	GetUser(ctx context.Context, id string) (storage.User, error)
	LinkGoogleSubject(ctx context.Context, userID, subject string) error
}

// Session is a signed-in user and their bearer token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      storage.User
}

type Config struct {
	Secret []byte
	TTL    time.Duration
}

type Service struct {
	store  UserStore
	google GoogleVerifier
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *log.Logger
}

// NewService builds the auth service. google may be nil, in which case
// Google sign-in fails with a configuration message.
func NewService(store UserStore, google GoogleVerifier, cfg Config, logger *log.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Service{
		store:  store,
		google: google,
		secret: cfg.Secret,
		ttl:    cfg.TTL,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentAuth),
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	// reject display-name forms like "Bob <bob@x.io>"
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func validatePassword(pw string) error {
	if len([]rune(pw)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, fail(msgInvalidEmail, err)
	}
	if err := validatePassword(password); err != nil {
		return Session{}, fail(msgShortPassword, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fail(msgUnexpectedFailed, fmt.Errorf("hash password: %w", err))
	}
	user, err := s.store.CreateUser(ctx, storage.User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(name),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return Session{}, fail(msgEmailTaken, ErrEmailTaken)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create user", log.FieldError, err)
		return Session{}, fail(msgUnexpectedFailed, err)
	}

	s.logger.InfoContext(ctx, "User signed up", log.FieldUserID, user.ID)
	return s.issue(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, fail(msgInvalidEmail, err)
	}
	if err := validatePassword(password); err != nil {
		return Session{}, fail(msgShortPassword, err)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, fail(msgBadCredentials, ErrInvalidCredentials)
	}
	if err != nil {
		return Session{}, fail(msgUnexpectedFailed, err)
	}
	if user.PasswordHash == "" {
		// Google-only account
		return Session{}, fail(msgBadCredentials, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Password rejected", log.FieldUserID, user.ID)
		return Session{}, fail(msgBadCredentials, ErrInvalidCredentials)
	}
	return s.issue(user)
}

// SignInWithGoogle verifies idToken and signs the matching user in. A new
// account is created on first sign-in; an existing email account is linked.
func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) (Session, error) {
	if s.google == nil {
		return Session{}, fail(msgGoogleDisabled, ErrGoogleUnavailable)
	}
	id, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.logger.WarnContext(ctx, "Google token rejected", log.FieldError, err)
		return Session{}, fail(msgGoogleFailed, fmt.Errorf("%w: %v", ErrGoogleRejected, err))
	}

	user, err := s.store.GetUserByGoogleSubject(ctx, id.Subject)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Session{}, fail(msgUnexpectedFailed, err)
	}

	email, err := normalizeEmail(id.Email)
	if err != nil {
		return Session{}, fail(msgGoogleFailed, fmt.Errorf("%w: %v", ErrGoogleRejected, err))
	}
	user, err = s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.store.LinkGoogleSubject(ctx, user.ID, id.Subject); err != nil {
			return Session{}, fail(msgUnexpectedFailed, err)
		}
		user.GoogleSubject = id.Subject
		s.logger.InfoContext(ctx, "Linked Google account", log.FieldUserID, user.ID)
	case errors.Is(err, storage.ErrNotFound):
		user, err = s.store.CreateUser(ctx, storage.User{Email: email, GoogleSubject: id.Subject, DisplayName: id.Name})
		if err != nil {
			return Session{}, fail(msgUnexpectedFailed, err)
		}
		s.logger.InfoContext(ctx, "User signed up with Google", log.FieldUserID, user.ID)
	default:
		return Session{}, fail(msgUnexpectedFailed, err)
	}
	return s.issue(user)
}

func (s *Service) issue(user storage.User) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fail(msgUnexpectedFailed, fmt.Errorf("sign token: %w", err))
	}
	return Session{Token: token, ExpiresAt: exp, User: user}, nil
}

// ParseToken validates a bearer token and returns the user id it was issued
// for.
func (s *Service) ParseToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fail(msgSessionInvalid, fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	if claims.Subject == "" {
		return "", fail(msgSessionInvalid, ErrInvalidToken)
	}
	return claims.Subject, nil
}
