package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/club-system/identity"
	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
)

// SessionIssuer is implemented by *identity.SessionManager.
type SessionIssuer interface {
	Issue(ctx context.Context, subjectID, role string) (string, *identity.SessionClaims, error)
	Revoke(ctx context.Context, sessionID string) error
}

// SignInResult carries either a session for an active member or the registration
// outcome for everybody else.
type SignInResult struct {
	Token        string                `json:"token,omitempty"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	Member       *models.Member        `json:"member,omitempty"`
	Registration *models.SignInOutcome `json:"registration,omitempty"`
}

type AuthService interface {
	Identify(ctx context.Context, assertion string) (*identity.Assertion, error)
	SignIn(ctx context.Context, assertion string) (*SignInResult, error)
	SignOut(ctx context.Context, sessionID string) error
}

type authService struct {
	tx             repositories.Transactor
	provider       identity.Provider
	sessions       SessionIssuer
	members        repositories.MemberRepository
	registrations  repositories.RegistrationRepository
	registration   RegistrationService
	bootstrapEmail string
	logger         *slog.Logger
	now            func() time.Time
}

func NewAuthService(
	tx repositories.Transactor,
	provider identity.Provider,
	sessions SessionIssuer,
	members repositories.MemberRepository,
	registrations repositories.RegistrationRepository,
	registration RegistrationService,
	bootstrapEmail string,
	logger *slog.Logger,
) AuthService {
	return &authService{
		tx:             tx,
		provider:       provider,
		sessions:       sessions,
		members:        members,
		registrations:  registrations,
		registration:   registration,
		bootstrapEmail: normalizeEmail(bootstrapEmail),
		logger:         logger,
		now:            time.Now,
	}
}

func (s *authService) Identify(ctx context.Context, assertion string) (*identity.Assertion, error) {
	if assertion == "" {
		return nil, ErrAuthenticationFailed
	}
	a, err := s.provider.VerifyAssertion(ctx, assertion)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("verify identity assertion: %w", err)
	}
	return a, nil
}

func (s *authService) SignIn(ctx context.Context, assertion string) (*SignInResult, error) {
	a, err := s.Identify(ctx, assertion)
	if err != nil {
		return nil, err
	}

	member, err := s.members.GetByID(ctx, nil, a.SubjectID)
	switch {
	case err == nil:
		return s.signInMember(ctx, member)
	case !errors.Is(err, repositories.ErrMemberNotFound):
		return nil, mapRepoError(err, "look up member")
	}

	if s.bootstrapEmail != "" && a.Email == s.bootstrapEmail {
		member, err := s.bootstrapAdmin(ctx, a)
		if err != nil {
			return nil, err
		}
		if member != nil {
			return s.signInMember(ctx, member)
		}
	}

	outcome, err := s.registration.OnFirstSignIn(ctx, FirstSignInInput{
		SubjectID:  a.SubjectID,
		Email:      a.Email,
		Name:       a.Name,
		PictureURL: a.PictureURL,
	})
	if err != nil {
		return nil, err
	}
	return &SignInResult{Registration: outcome}, nil
}

func (s *authService) signInMember(ctx context.Context, member *models.Member) (*SignInResult, error) {
	switch member.Status {
	case models.MemberDisabled:
		return nil, ErrAccountDisabled
	case models.MemberRemoved:
		return nil, ErrAccountRemoved
	}

	token, claims, err := s.sessions.Issue(ctx, member.ID, string(member.Role))
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	populateMemberDerived(member, nil, s.now())

	s.logger.InfoContext(ctx, "member_signed_in", slog.String("member_id", member.ID), slog.String("session_id", claims.SessionID()))
	expires := claims.ExpiresAt.Time
	return &SignInResult{Token: token, ExpiresAt: &expires, Member: member}, nil
}

// bootstrapAdmin creates the first admin directly from the configured e-mail. It is a
// no-op once any active admin exists.
func (s *authService) bootstrapAdmin(ctx context.Context, a *identity.Assertion) (*models.Member, error) {
	now := s.now()
	var member *models.Member
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		admins, err := s.members.CountActiveAdmins(ctx, exec, "")
		if err != nil {
			return err
		}
		if admins > 0 {
			return nil
		}

		name := a.Name
		if name == "" {
			name = a.Email
		}
		m := &models.Member{
			ID:              a.SubjectID,
			Email:           a.Email,
			Name:            name,
			Role:            models.RoleAdmin,
			Status:          models.MemberActive,
			MemberType:      models.MemberTypeStandard,
			ActiveProfileID: a.SubjectID,
			PictureURL:      a.PictureURL,
			ApprovedBy:      strPtr("bootstrap"),
			ApprovedAt:      timePtr(now),
		}
		if err := s.members.Create(ctx, exec, m); err != nil {
			return err
		}
		if err := s.members.AppendHistory(ctx, exec, &models.StatusHistoryEntry{
			MemberID:  m.ID,
			Action:    "bootstrap",
			ToStatus:  models.MemberActive,
			ActorID:   m.ID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := s.registrations.Delete(ctx, exec, m.ID); err != nil && !errors.Is(err, repositories.ErrRegistrationNotFound) {
			return err
		}
		member = m
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "bootstrap admin")
	}
	if member != nil {
		s.logger.WarnContext(ctx, "bootstrap admin created", slog.String("member_id", member.ID), slog.String("email", member.Email))
	}
	return member, nil
}

func (s *authService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.InfoContext(ctx, "member_signed_out", slog.String("session_id", sessionID))
	return nil
}
