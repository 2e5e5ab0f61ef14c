package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Assertion is what the identity provider vouches for after it has verified the
// user's credentials.
type Assertion struct {
	SubjectID  string
	Email      string
	Name       string
	PictureURL *string
}

// Provider verifies identity assertions issued by the external identity provider.
type Provider interface {
	VerifyAssertion(ctx context.Context, token string) (*Assertion, error)
}

type assertionClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

type JWTProviderConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

type jwtProvider struct {
	key      []byte
	issuer   string
	audience string
}

func NewJWTProvider(cfg JWTProviderConfig) (Provider, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("identity provider signing key is required")
	}
	return &jwtProvider{key: []byte(cfg.SigningKey), issuer: cfg.Issuer, audience: cfg.Audience}, nil
}

func (p *jwtProvider) VerifyAssertion(_ context.Context, token string) (*Assertion, error) {
	var claims assertionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if p.issuer != "" && !claims.VerifyIssuer(p.issuer, true) {
		return nil, ErrInvalidToken
	}
	if p.audience != "" && !claims.VerifyAudience(p.audience, true) {
		return nil, ErrInvalidToken
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Subject == "" || email == "" {
		return nil, ErrInvalidToken
	}

	a := &Assertion{SubjectID: claims.Subject, Email: email, Name: strings.TrimSpace(claims.Name)}
	if a.Name == "" {
		a.Name = email
	}
	if claims.Picture != "" {
		pic := claims.Picture
		a.PictureURL = &pic
	}
	return a, nil
}
