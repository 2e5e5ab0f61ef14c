package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signAssertion(t *testing.T, key string, claims assertionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validAssertionClaims() assertionClaims {
	return assertionClaims{
		Email: " Player@Example.com ",
		Name:  "Pat Player",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-1",
			Issuer:    "https://idp.example",
			Audience:  jwt.ClaimStrings{"club"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTProvider_VerifyAssertion(t *testing.T) {
	p, err := NewJWTProvider(JWTProviderConfig{SigningKey: "k", Issuer: "https://idp.example", Audience: "club"})
	require.NoError(t, err)

	a, err := p.VerifyAssertion(context.Background(), signAssertion(t, "k", validAssertionClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-1", a.SubjectID)
	assert.Equal(t, "player@example.com", a.Email)
	assert.Equal(t, "Pat Player", a.Name)
	assert.Nil(t, a.PictureURL)
}

func TestJWTProvider_RejectsBadAssertions(t *testing.T) {
	p, err := NewJWTProvider(JWTProviderConfig{SigningKey: "k", Issuer: "https://idp.example", Audience: "club"})
	require.NoError(t, err)

	wrongAudience := validAssertionClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	expired := validAssertionClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noEmail := validAssertionClaims()
	noEmail.Email = ""

	tests := map[string]string{
		"wrong key":      signAssertion(t, "other", validAssertionClaims()),
		"wrong audience": signAssertion(t, "k", wrongAudience),
		"expired":        signAssertion(t, "k", expired),
		"missing email":  signAssertion(t, "k", noEmail),
		"garbage":        "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.VerifyAssertion(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]string{}}
}

func (s *memoryStore) Save(_ context.Context, id, subject string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = subject
	return nil
}

func (s *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func TestSessionManager_IssueVerifyRevoke(t *testing.T) {
	store := newMemoryStore()
	m := NewSessionManager("secret", time.Hour, store)
	ctx := context.Background()

	token, claims, err := m.Issue(ctx, "uid-1", "player")
	require.NoError(t, err)
	require.NotEmpty(t, claims.SessionID())

	got, err := m.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", got.Subject)
	assert.Equal(t, "player", got.Role)

	require.NoError(t, m.Revoke(ctx, claims.SessionID()))
	_, err = m.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionManager_Expired(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.Issue(context.Background(), "uid-1", "player")
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionManager_RejectsForeignSignature(t *testing.T) {
	issuer := NewSessionManager("one", time.Hour, nil)
	verifier := NewSessionManager("two", time.Hour, nil)

	token, _, err := issuer.Issue(context.Background(), "uid-1", "admin")
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
