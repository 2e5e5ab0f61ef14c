package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
)

type StatusAction string

const (
	ActionDisable StatusAction = "disable"
	ActionEnable  StatusAction = "enable"
	ActionRemove  StatusAction = "remove"
	ActionRestore StatusAction = "restore"
)

type statusTransition struct {
	from []models.MemberStatus
	to   models.MemberStatus
	// lastAdminGuard: the action takes an admin out of the active pool.
	lastAdminGuard bool
}

var statusTransitions = map[StatusAction]statusTransition{
	ActionDisable: {from: []models.MemberStatus{models.MemberActive}, to: models.MemberDisabled, lastAdminGuard: true},
	ActionEnable:  {from: []models.MemberStatus{models.MemberDisabled}, to: models.MemberActive},
	ActionRemove:  {from: []models.MemberStatus{models.MemberActive, models.MemberDisabled}, to: models.MemberRemoved, lastAdminGuard: true},
	ActionRestore: {from: []models.MemberStatus{models.MemberRemoved}, to: models.MemberActive},
}

func (t statusTransition) allowedFrom(status models.MemberStatus) bool {
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

type MemberStatusService interface {
	ChangeStatus(ctx context.Context, targetID, actorID string, action StatusAction, reason *string) (*models.Member, error)
	ChangeRole(ctx context.Context, targetID, actorID string, role models.MemberRole) (*models.Member, error)
	History(ctx context.Context, memberID string) ([]models.StatusHistoryEntry, error)
}

type memberStatusService struct {
	tx       repositories.Transactor
	members  repositories.MemberRepository
	recorder TransitionRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewMemberStatusService(tx repositories.Transactor, members repositories.MemberRepository, recorder TransitionRecorder, logger *slog.Logger) MemberStatusService {
	return &memberStatusService{
		tx:       tx,
		members:  members,
		recorder: recorderOrNoop(recorder),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *memberStatusService) ChangeStatus(ctx context.Context, targetID, actorID string, action StatusAction, reason *string) (*models.Member, error) {
	transition, ok := statusTransitions[action]
	if !ok {
		return nil, withDetail(ErrInvalidAction, "unknown action %q", action)
	}
	if targetID == actorID {
		return nil, ErrSelfStatusChange
	}

	now := s.now()
	var member *models.Member
	var from models.MemberStatus
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if member, err = s.members.GetByIDForUpdate(ctx, exec, targetID); err != nil {
			return err
		}
		from = member.Status
		if !transition.allowedFrom(from) {
			return &TransitionError{Action: string(action), Current: string(from)}
		}
		if transition.lastAdminGuard && member.IsAdmin() {
			remaining, err := s.members.CountActiveAdmins(ctx, exec, member.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return ErrLastAdmin
			}
		}

		if err := s.members.UpdateStatus(ctx, exec, member.ID, transition.to, actorID, now); err != nil {
			return err
		}
		return s.members.AppendHistory(ctx, exec, &models.StatusHistoryEntry{
			MemberID:   member.ID,
			Action:     string(action),
			FromStatus: string(from),
			ToStatus:   transition.to,
			ActorID:    actorID,
			Reason:     reason,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, mapRepoError(err, "change member status")
	}

	member.Status = transition.to
	member.StatusUpdatedAt = timePtr(now)
	member.StatusUpdatedBy = strPtr(actorID)
	populateMemberDerived(member, nil, now)

	s.recorder.RecordTransition("member", string(from), string(transition.to))
	s.logger.InfoContext(ctx, "member_status_changed",
		slog.String("member_id", member.ID),
		slog.String("action", string(action)),
		slog.String("from", string(from)),
		slog.String("to", string(transition.to)),
		slog.String("actor_id", actorID))
	return member, nil
}

func (s *memberStatusService) ChangeRole(ctx context.Context, targetID, actorID string, role models.MemberRole) (*models.Member, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if targetID == actorID {
		return nil, withDetail(ErrForbiddenOperation, "you cannot change your own role")
	}

	now := s.now()
	var member *models.Member
	var previous models.MemberRole
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if member, err = s.members.GetByIDForUpdate(ctx, exec, targetID); err != nil {
			return err
		}
		previous = member.Role
		if previous == role {
			return nil
		}
		if member.IsActiveAdmin() {
			remaining, err := s.members.CountActiveAdmins(ctx, exec, member.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return ErrLastAdmin
			}
		}
		if err := s.members.UpdateRole(ctx, exec, member.ID, role); err != nil {
			return err
		}
		return s.members.AppendHistory(ctx, exec, &models.StatusHistoryEntry{
			MemberID:   member.ID,
			Action:     "role:" + string(role),
			FromStatus: string(member.Status),
			ToStatus:   member.Status,
			ActorID:    actorID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, mapRepoError(err, "change member role")
	}

	member.Role = role
	populateMemberDerived(member, nil, now)
	if previous != role {
		s.logger.InfoContext(ctx, "member_role_changed",
			slog.String("member_id", member.ID),
			slog.String("from", string(previous)),
			slog.String("to", string(role)),
			slog.String("actor_id", actorID))
	}
	return member, nil
}

func (s *memberStatusService) History(ctx context.Context, memberID string) ([]models.StatusHistoryEntry, error) {
	if _, err := s.members.GetByID(ctx, nil, memberID); err != nil {
		return nil, mapRepoError(err, "get member")
	}
	entries, err := s.members.ListHistory(ctx, memberID)
	if err != nil {
		return nil, mapRepoError(err, "list member history")
	}
	return entries, nil
}
