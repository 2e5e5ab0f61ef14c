package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// SessionClaims are carried by the signed session artifact handed to clients.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionID is the jti of the artifact.
func (c *SessionClaims) SessionID() string {
	return c.ID
}

type SessionManager struct {
	secret []byte
	ttl    time.Duration
	store  SessionStore
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration, store SessionStore) *SessionManager {
	if store == nil {
		store = StatelessSessionStore{}
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, store: store, now: time.Now}
}

// Issue signs a new session for subjectID and records it in the store.
func (m *SessionManager) Issue(ctx context.Context, subjectID, role string) (string, *SessionClaims, error) {
	now := m.now()
	claims := &SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session: %w", err)
	}
	if err := m.store.Save(ctx, claims.ID, subjectID, m.ttl); err != nil {
		return "", nil, fmt.Errorf("failed to store session: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, expiry and, for stateful stores, that the session was not revoked.
func (m *SessionManager) Verify(ctx context.Context, token string) (*SessionClaims, error) {
	var claims SessionClaims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	ok, err := m.store.Exists(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return m.store.Delete(ctx, sessionID)
}
