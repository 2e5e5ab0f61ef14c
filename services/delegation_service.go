package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/rules"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type CreateKidInput struct {
	ParentEmail string `json:"parent_email" validate:"required,email"`
	Name        string `json:"name" validate:"required,max=100"`
	BirthYear   int    `json:"birth_year" validate:"required"`
	BirthMonth  *int   `json:"birth_month,omitempty" validate:"omitempty,min=1,max=12"`
}

// SubjectResolver answers "who is this subject and may the member act as it".
// Every attendance operation goes through it.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, memberID, subjectID string) (*models.Subject, error)
	LookupSubject(ctx context.Context, subjectID string) (*models.Subject, error)
}

type DelegationService interface {
	SubjectResolver
	CreateKid(ctx context.Context, adminID string, in CreateKidInput) (*models.Kid, error)
	AddSecondaryParent(ctx context.Context, adminID, kidID, parentEmail string) (*models.Kid, error)
	DeactivateKid(ctx context.Context, adminID, kidID string) (*models.Kid, error)
	ReactivateKid(ctx context.Context, adminID, kidID string) (*models.Kid, error)
	SwitchProfile(ctx context.Context, memberID, profileID string) (*models.Profile, error)
	ListProfiles(ctx context.Context, memberID string) ([]models.Profile, error)
}

type delegationService struct {
	tx         repositories.Transactor
	members    repositories.MemberRepository
	kids       repositories.KidRepository
	attendance repositories.AttendanceRepository
	recorder   TransitionRecorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewDelegationService(
	tx repositories.Transactor,
	members repositories.MemberRepository,
	kids repositories.KidRepository,
	attendance repositories.AttendanceRepository,
	recorder TransitionRecorder,
	logger *slog.Logger,
) DelegationService {
	return &delegationService{
		tx:         tx,
		members:    members,
		kids:       kids,
		attendance: attendance,
		recorder:   recorderOrNoop(recorder),
		logger:     logger,
		now:        time.Now,
	}
}

func (s *delegationService) CreateKid(ctx context.Context, adminID string, in CreateKidInput) (*models.Kid, error) {
	now := s.now()
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.ParentEmail)
	if name == "" || email == "" {
		return nil, withDetail(ErrValidationFailed, "kid name and parent email are required")
	}
	if in.BirthYear < 1900 || in.BirthYear > now.Year() {
		return nil, withDetail(ErrValidationFailed, "birth_year is out of range")
	}
	if in.BirthMonth != nil && (*in.BirthMonth < 1 || *in.BirthMonth > 12) {
		return nil, withDetail(ErrValidationFailed, "birth_month must be between 1 and 12")
	}

	kid := &models.Kid{
		ID:           uuid.NewString(),
		Name:         name,
		BirthYear:    in.BirthYear,
		BirthMonth:   in.BirthMonth,
		ParentEmails: []string{email},
		Status:       models.KidActive,
		CreatedBy:    adminID,
	}
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		parent, err := s.parentByEmail(ctx, exec, email)
		if err != nil {
			return err
		}
		kid.ParentID = parent.ID
		kid.LinkedParents = models.LinkedParents{{MemberID: parent.ID, LinkedBy: adminID, LinkedAt: now}}
		if err := s.kids.Create(ctx, exec, kid); err != nil {
			return err
		}
		return s.members.AddKid(ctx, exec, parent.ID, kid.ID)
	})
	if err != nil {
		return nil, mapRepoError(err, "create kid")
	}

	populateKidDerived(kid, now)
	s.recorder.RecordTransition("kid", "", string(models.KidActive))
	s.logger.InfoContext(ctx, "kid_created",
		slog.String("kid_id", kid.ID),
		slog.String("parent_id", kid.ParentID),
		slog.String("created_by", adminID))
	return kid, nil
}

// AddSecondaryParent links another member to an existing kid. Both sides of the
// link are written in one transaction.
func (s *delegationService) AddSecondaryParent(ctx context.Context, adminID, kidID, parentEmail string) (*models.Kid, error) {
	email := normalizeEmail(parentEmail)
	if email == "" {
		return nil, withDetail(ErrValidationFailed, "parent email is required")
	}

	now := s.now()
	var kid *models.Kid
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if kid, err = s.kids.GetForUpdate(ctx, exec, kidID); err != nil {
			return err
		}
		if kid.HasParentEmail(email) {
			return ErrParentEmailExists
		}
		parent, err := s.parentByEmail(ctx, exec, email)
		if err != nil {
			return err
		}
		link := models.LinkedParent{MemberID: parent.ID, LinkedBy: adminID, LinkedAt: now}
		if err := s.kids.AddParent(ctx, exec, kid.ID, email, link); err != nil {
			return err
		}
		if err := s.members.AddKid(ctx, exec, parent.ID, kid.ID); err != nil {
			return err
		}
		if err := s.members.AddLinkedParent(ctx, exec, parent.ID, kid.ParentID); err != nil {
			return err
		}
		kid.ParentEmails = append(kid.ParentEmails, email)
		kid.LinkedParents = append(kid.LinkedParents, link)
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "add secondary parent")
	}

	populateKidDerived(kid, now)
	s.logger.InfoContext(ctx, "kid_parent_linked",
		slog.String("kid_id", kid.ID),
		slog.String("parent_email", email),
		slog.String("linked_by", adminID))
	return kid, nil
}

func (s *delegationService) DeactivateKid(ctx context.Context, adminID, kidID string) (*models.Kid, error) {
	return s.setKidStatus(ctx, adminID, kidID, models.KidInactive, models.RecordInactive)
}

func (s *delegationService) ReactivateKid(ctx context.Context, adminID, kidID string) (*models.Kid, error) {
	return s.setKidStatus(ctx, adminID, kidID, models.KidActive, models.RecordActive)
}

// setKidStatus changes the kid and cascades the soft-status to its attendance records.
func (s *delegationService) setKidStatus(ctx context.Context, adminID, kidID string, status models.KidStatus, recordStatus models.RecordStatus) (*models.Kid, error) {
	var kid *models.Kid
	var from models.KidStatus
	var cascaded int64
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if kid, err = s.kids.GetForUpdate(ctx, exec, kidID); err != nil {
			return err
		}
		if kid.Status == status {
			return ErrKidStatusUnchanged
		}
		from = kid.Status
		if err := s.kids.UpdateStatus(ctx, exec, kid.ID, status); err != nil {
			return err
		}
		cascaded, err = s.attendance.SetRecordStatusForSubject(ctx, exec, kid.ID, recordStatus)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, "change kid status")
	}

	kid.Status = status
	populateKidDerived(kid, s.now())
	s.recorder.RecordTransition("kid", string(from), string(status))
	s.logger.InfoContext(ctx, "kid_status_changed",
		slog.String("kid_id", kid.ID),
		slog.String("status", string(status)),
		slog.Int64("attendance_records", cascaded),
		slog.String("actor_id", adminID))
	return kid, nil
}

func (s *delegationService) SwitchProfile(ctx context.Context, memberID, profileID string) (*models.Profile, error) {
	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}

	profile, err := s.accessibleProfile(ctx, member, profileID)
	if err != nil {
		return nil, err
	}
	if err := s.members.SetActiveProfile(ctx, member.ID, profile.ID); err != nil {
		return nil, mapRepoError(err, "set active profile")
	}
	profile.Active = true

	s.logger.InfoContext(ctx, "profile_switched",
		slog.String("member_id", member.ID),
		slog.String("profile_id", profile.ID),
		slog.String("kind", string(profile.Kind)))
	return profile, nil
}

func (s *delegationService) accessibleProfile(ctx context.Context, member *models.Member, profileID string) (*models.Profile, error) {
	switch {
	case profileID == "" || profileID == member.ID:
		return &models.Profile{ID: member.ID, Kind: models.ProfileSelf, Name: member.Name}, nil
	case member.OwnsKid(profileID):
		kid, err := s.kids.GetByID(ctx, nil, profileID)
		if err != nil {
			if errors.Is(err, repositories.ErrKidNotFound) {
				return nil, ErrNotAccessible
			}
			return nil, mapRepoError(err, "get kid")
		}
		if kid.Status != models.KidActive {
			return nil, ErrNotAccessible
		}
		return &models.Profile{ID: kid.ID, Kind: models.ProfileKid, Name: kid.Name}, nil
	case member.ManagesYouth(profileID):
		youth, err := s.members.GetByID(ctx, nil, profileID)
		if err != nil {
			if errors.Is(err, repositories.ErrMemberNotFound) {
				return nil, ErrNotAccessible
			}
			return nil, mapRepoError(err, "get linked youth")
		}
		if youth.Status != models.MemberActive {
			return nil, ErrNotAccessible
		}
		return &models.Profile{ID: youth.ID, Kind: models.ProfileLinkedYouth, Name: youth.Name}, nil
	}
	return nil, ErrNotAccessible
}

func (s *delegationService) ListProfiles(ctx context.Context, memberID string) ([]models.Profile, error) {
	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}

	var kids []models.Kid
	youths := make([]*models.Member, len(member.LinkedYouthIDs))

	g, gCtx := errgroup.WithContext(ctx)
	if len(member.KidIDs) > 0 {
		g.Go(func() error {
			var err error
			kids, err = s.kids.ListByIDs(gCtx, member.KidIDs)
			return err
		})
	}
	for i, id := range member.LinkedYouthIDs {
		i, id := i, id
		g.Go(func() error {
			youth, err := s.members.GetByID(gCtx, nil, id)
			if errors.Is(err, repositories.ErrMemberNotFound) {
				return nil
			}
			youths[i] = youth
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mapRepoError(err, "load profiles")
	}

	active := member.ActiveProfileID
	if active == "" {
		active = member.ID
	}
	profiles := []models.Profile{{ID: member.ID, Kind: models.ProfileSelf, Name: member.Name, Active: active == member.ID}}
	for _, k := range kids {
		if k.Status != models.KidActive {
			continue
		}
		profiles = append(profiles, models.Profile{ID: k.ID, Kind: models.ProfileKid, Name: k.Name, Active: active == k.ID})
	}
	for _, y := range youths {
		if y == nil || y.Status != models.MemberActive {
			continue
		}
		profiles = append(profiles, models.Profile{ID: y.ID, Kind: models.ProfileLinkedYouth, Name: y.Name, Active: active == y.ID})
	}
	return profiles, nil
}

// ResolveSubject returns the subject memberID is acting as. An empty subjectID means
// the member itself.
func (s *delegationService) ResolveSubject(ctx context.Context, memberID, subjectID string) (*models.Subject, error) {
	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}
	if subjectID == "" || subjectID == member.ID {
		return s.memberSubject(member), nil
	}

	profile, err := s.accessibleProfile(ctx, member, subjectID)
	if err != nil {
		return nil, err
	}
	return s.LookupSubject(ctx, profile.ID)
}

// LookupSubject resolves any member or kid id without an access check. Admin flows only.
func (s *delegationService) LookupSubject(ctx context.Context, subjectID string) (*models.Subject, error) {
	member, err := s.members.GetByID(ctx, nil, subjectID)
	if err == nil {
		return s.memberSubject(member), nil
	}
	if !errors.Is(err, repositories.ErrMemberNotFound) {
		return nil, mapRepoError(err, "get member")
	}

	kid, err := s.kids.GetByID(ctx, nil, subjectID)
	if err != nil {
		if errors.Is(err, repositories.ErrKidNotFound) {
			return nil, ErrSubjectNotFound
		}
		return nil, mapRepoError(err, "get kid")
	}
	return kidSubject(kid), nil
}

func (s *delegationService) memberSubject(m *models.Member) *models.Subject {
	populateMemberDerived(m, nil, s.now())
	return &models.Subject{
		ID:           m.ID,
		Type:         models.SubjectAdult,
		Name:         m.Name,
		Email:        m.Email,
		Category:     m.Category,
		Groups:       m.Groups,
		MemberType:   m.MemberType,
		RecordStatus: models.RecordActive,
	}
}

func kidSubject(k *models.Kid) *models.Subject {
	recordStatus := models.RecordActive
	if k.Status != models.KidActive {
		recordStatus = models.RecordInactive
	}
	return &models.Subject{
		ID:           k.ID,
		Type:         models.SubjectKid,
		Name:         k.Name,
		Category:     models.CategoryJuniors,
		Groups:       []string{rules.GroupKids},
		MemberType:   models.MemberTypeStandard,
		RecordStatus: recordStatus,
	}
}

func (s *delegationService) parentByEmail(ctx context.Context, exec repositories.SQLExecutor, email string) (*models.Member, error) {
	parent, err := s.members.GetByEmail(ctx, exec, email)
	if err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			return nil, ErrParentNotFound
		}
		return nil, err
	}
	if parent.Status == models.MemberRemoved {
		return nil, ErrParentNotFound
	}
	return parent, nil
}
