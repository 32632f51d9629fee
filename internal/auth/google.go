package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleIdentity is the verified content of a Google ID token.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}

// IDTokenVerifier checks tokens against Google's published keys for a
// single OAuth client id.
type IDTokenVerifier struct {
	audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewIDTokenVerifier(clientID string) *IDTokenVerifier {
	return &IDTokenVerifier{audience: clientID, validate: idtoken.Validate}
}

func (v *IDTokenVerifier) Verify(ctx context.Context, token string) (GoogleIdentity, error) {
	if token == "" {
		return GoogleIdentity{}, errors.New("empty id token")
	}
	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("validate id token: %w", err)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return GoogleIdentity{}, errors.New("google email is not verified")
	}
	id := GoogleIdentity{Subject: payload.Subject}
	id.Email, _ = payload.Claims["email"].(string)
	id.Name, _ = payload.Claims["name"].(string)
	if id.Subject == "" || id.Email == "" {
		return GoogleIdentity{}, errors.New("id token lacks subject or email")
	}
	return id, nil
}
