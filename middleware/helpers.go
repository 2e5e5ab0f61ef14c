package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dosada05/club-system/models"
)

type contextKey string

const (
	memberContextKey  contextKey = "member"
	sessionContextKey contextKey = "session_id"
)

var ErrNoMemberInContext = errors.New("authenticated member not found in context")

// ContextWithMember stores the authenticated member and session id. Authenticate uses
// it; handler tests use it to skip the session round trip.
func ContextWithMember(ctx context.Context, member *models.Member, sessionID string) context.Context {
	ctx = context.WithValue(ctx, memberContextKey, member)
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

func GetMemberFromContext(ctx context.Context) (*models.Member, error) {
	member, ok := ctx.Value(memberContextKey).(*models.Member)
	if !ok || member == nil {
		return nil, ErrNoMemberInContext
	}
	return member, nil
}

func GetMemberIDFromContext(ctx context.Context) (string, error) {
	member, err := GetMemberFromContext(ctx)
	if err != nil {
		return "", err
	}
	return member.ID, nil
}

// GetActingSubjectID returns the profile the member is currently acting as: itself,
// one of its kids or a linked youth account.
func GetActingSubjectID(ctx context.Context) (string, error) {
	member, err := GetMemberFromContext(ctx)
	if err != nil {
		return "", err
	}
	if member.ActiveProfileID == "" {
		return member.ID, nil
	}
	return member.ActiveProfileID, nil
}

func GetSessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(sessionContextKey).(string)
	if !ok || id == "" {
		return "", errors.New("session id not found in context")
	}
	return id, nil
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
