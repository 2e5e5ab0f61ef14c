package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dosada05/club-system/identity"
	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
)

// SessionCookieName is the cookie the browser client keeps the session artifact in.
const SessionCookieName = "club_session"

// SessionVerifier is implemented by *identity.SessionManager.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*identity.SessionClaims, error)
}

// MemberGetter is the slice of repositories.MemberRepository the middleware needs.
type MemberGetter interface {
	GetByID(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.Member, error)
}

type Authenticator struct {
	sessions SessionVerifier
	members  MemberGetter
	logger   *slog.Logger
}

func NewAuthenticator(sessions SessionVerifier, members MemberGetter, logger *slog.Logger) *Authenticator {
	return &Authenticator{sessions: sessions, members: members, logger: logger}
}

// Authenticate verifies the session and reloads the member on every request, so a
// disabled or removed member loses access without waiting for the session to expire.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			errorJSON(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := a.sessions.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				errorJSON(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			a.logger.ErrorContext(r.Context(), "session verification failed", slog.Any("error", err))
			errorJSON(w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
			return
		}

		member, err := a.members.GetByID(r.Context(), nil, claims.Subject)
		if err != nil {
			if errors.Is(err, repositories.ErrMemberNotFound) {
				errorJSON(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			a.logger.ErrorContext(r.Context(), "failed to load session member", slog.String("member_id", claims.Subject), slog.Any("error", err))
			errorJSON(w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
			return
		}
		switch member.Status {
		case models.MemberActive:
		case models.MemberDisabled:
			errorJSON(w, http.StatusForbidden, "account is disabled")
			return
		default:
			errorJSON(w, http.StatusForbidden, "account has been removed")
			return
		}

		ctx := ContextWithMember(r.Context(), member, claims.SessionID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize allows the request through only for members holding one of roles.
// It must run after Authenticate.
func Authorize(roles ...models.MemberRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			member, err := GetMemberFromContext(r.Context())
			if err != nil {
				errorJSON(w, http.StatusUnauthorized, "authentication required")
				return
			}

			for _, role := range roles {
				if role == member.Role {
					next.ServeHTTP(w, r)
					return
				}
			}

			errorJSON(w, http.StatusForbidden, "admin access required")
		})
	}
}

// RequireAdmin is Authorize(models.RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return Authorize(models.RoleAdmin)(next)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
