package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/rules"
	"github.com/Dosada05/club-system/storage"
)

const (
	defaultMemberListLimit = 20
	maxMemberListLimit     = 100
)

type CompleteProfileInput struct {
	Group      *string            `json:"group,omitempty"`
	MemberType *models.MemberType `json:"member_type,omitempty"`
	Phone      *string            `json:"phone,omitempty" validate:"omitempty,max=30"`
	BirthYear  *int               `json:"birth_year,omitempty"`
	BirthMonth *int               `json:"birth_month,omitempty" validate:"omitempty,min=1,max=12"`
	Gender     *string            `json:"gender,omitempty" validate:"omitempty,max=20"`
}

type MemberService interface {
	Me(ctx context.Context, memberID string) (*models.Member, error)
	CompleteProfile(ctx context.Context, memberID string, in CompleteProfileInput) (*models.Member, error)
	SetGroups(ctx context.Context, adminID, memberID string, groups []string) (*models.Member, error)
	List(ctx context.Context, filter models.MemberFilter) (*models.MemberListResponse, error)
	UploadAvatar(ctx context.Context, memberID, contentType string, reader io.Reader) (*models.Member, error)
}

type memberService struct {
	members  repositories.MemberRepository
	uploader storage.FileUploader
	logger   *slog.Logger
	now      func() time.Time
}

// NewMemberService accepts a nil uploader; avatar uploads are then disabled.
func NewMemberService(members repositories.MemberRepository, uploader storage.FileUploader, logger *slog.Logger) MemberService {
	return &memberService{
		members:  members,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *memberService) Me(ctx context.Context, memberID string) (*models.Member, error) {
	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}
	populateMemberDerived(member, s.uploader, s.now())
	return member, nil
}

// CompleteProfile lets a member fill in the fields approval left empty. The group can
// only be chosen while the member has none; afterwards it is admin-managed.
func (s *memberService) CompleteProfile(ctx context.Context, memberID string, in CompleteProfileInput) (*models.Member, error) {
	now := s.now()
	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}
	member.Groups = rules.NormalizeGroups(member.Groups, member.LegacyGroup)
	member.LegacyGroup = nil

	if in.Group != nil {
		group, ok := rules.CanonicalGroup(*in.Group)
		if !ok {
			return nil, withDetail(ErrValidationFailed, "unknown group %q", *in.Group)
		}
		if len(member.Groups) > 0 && !containsGroup(member.Groups, group) {
			return nil, withDetail(ErrForbiddenOperation, "groups are managed by admins once set")
		}
		member.Groups = rules.NormalizeGroups(member.Groups, &group)
	}
	if in.MemberType != nil {
		if !in.MemberType.Valid() {
			return nil, withDetail(ErrValidationFailed, "member_type must be standard or student")
		}
		member.MemberType = *in.MemberType
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if phone == "" {
			return nil, withDetail(ErrValidationFailed, "phone must not be blank")
		}
		member.Phone = &phone
	}
	if in.BirthYear != nil {
		if *in.BirthYear < 1900 || *in.BirthYear > now.Year() {
			return nil, withDetail(ErrValidationFailed, "birth_year is out of range")
		}
		member.BirthYear = in.BirthYear
	}
	if in.BirthMonth != nil {
		member.BirthMonth = in.BirthMonth
	}
	if in.Gender != nil {
		member.Gender = in.Gender
	}
	member.ProfileCompleted = rules.ProfileComplete(member.Groups, member.MemberType, member.Phone, member.BirthYear)

	if err := s.members.UpdateProfile(ctx, nil, member); err != nil {
		return nil, mapRepoError(err, "update profile")
	}
	populateMemberDerived(member, s.uploader, now)

	s.logger.InfoContext(ctx, "profile_updated",
		slog.String("member_id", member.ID),
		slog.Bool("profile_completed", member.ProfileCompleted))
	return member, nil
}

func (s *memberService) SetGroups(ctx context.Context, adminID, memberID string, groups []string) (*models.Member, error) {
	normalized := rules.NormalizeGroups(groups, nil)
	if len(normalized) == 0 {
		return nil, withDetail(ErrValidationFailed, "at least one group is required")
	}

	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}
	member.Groups = normalized
	member.LegacyGroup = nil
	member.ProfileCompleted = rules.ProfileComplete(member.Groups, member.MemberType, member.Phone, member.BirthYear)
	if err := s.members.UpdateProfile(ctx, nil, member); err != nil {
		return nil, mapRepoError(err, "update groups")
	}
	populateMemberDerived(member, s.uploader, s.now())

	s.logger.InfoContext(ctx, "member_groups_changed",
		slog.String("member_id", member.ID),
		slog.Any("groups", member.Groups),
		slog.String("actor_id", adminID))
	return member, nil
}

func (s *memberService) List(ctx context.Context, filter models.MemberFilter) (*models.MemberListResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultMemberListLimit
	}
	if filter.Limit > maxMemberListLimit {
		filter.Limit = maxMemberListLimit
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	members, total, err := s.members.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err, "list members")
	}
	now := s.now()
	for i := range members {
		populateMemberDerived(&members[i], s.uploader, now)
	}
	return &models.MemberListResponse{
		Members:    members,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
	}, nil
}

func (s *memberService) UploadAvatar(ctx context.Context, memberID, contentType string, reader io.Reader) (*models.Member, error) {
	if s.uploader == nil {
		return nil, ErrUploadsDisabled
	}
	ext, err := GetExtensionFromContentType(contentType)
	if err != nil {
		return nil, err
	}

	member, err := s.members.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, mapRepoError(err, "get member")
	}

	now := s.now()
	key := storage.AvatarKey(member.ID, ext, now)
	if _, err := s.uploader.Upload(ctx, key, contentType, reader); err != nil {
		s.logger.ErrorContext(ctx, "avatar upload failed", slog.String("member_id", member.ID), slog.Any("error", err))
		return nil, fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.members.SetAvatarKey(ctx, member.ID, &key); err != nil {
		// Не оставляем объект без ссылки
		if delErr := s.uploader.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "failed to delete orphaned avatar", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, mapRepoError(err, "save avatar key")
	}

	if old := member.AvatarKey; old != nil && *old != "" && *old != key {
		if err := s.uploader.Delete(ctx, *old); err != nil {
			s.logger.WarnContext(ctx, "failed to delete previous avatar", slog.String("key", *old), slog.Any("error", err))
		}
	}
	member.AvatarKey = &key
	populateMemberDerived(member, s.uploader, now)
	return member, nil
}

func containsGroup(groups []string, group string) bool {
	for _, g := range groups {
		if g == group {
			return true
		}
	}
	return false
}
