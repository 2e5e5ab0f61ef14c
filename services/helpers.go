package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/rules"
	"github.com/Dosada05/club-system/storage"
)

// TransitionRecorder receives every applied state change. metrics.Metrics satisfies it.
type TransitionRecorder interface {
	RecordTransition(entity, from, to string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(string, string, string) {}

func recorderOrNoop(r TransitionRecorder) TransitionRecorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// populateMemberDerived fills the read-only fields every member response carries.
// Groups are normalised here once so business logic never sees the legacy shape.
func populateMemberDerived(m *models.Member, uploader storage.FileUploader, now time.Time) {
	if m == nil {
		return
	}
	m.Groups = rules.NormalizeGroups(m.Groups, m.LegacyGroup)
	m.LegacyGroup = nil
	m.Category = rules.MemberCategory(m)
	if m.BirthYear != nil {
		if age, ok := rules.AgeFromBirth(*m.BirthYear, m.BirthMonth, now); ok {
			m.Age = &age
		}
	}
	if m.AvatarKey != nil && *m.AvatarKey != "" && uploader != nil {
		if url := uploader.GetPublicURL(*m.AvatarKey); url != "" {
			m.AvatarURL = &url
		}
	}
}

func populateKidDerived(k *models.Kid, now time.Time) {
	if k == nil {
		return
	}
	if age, ok := rules.AgeFromBirth(k.BirthYear, k.BirthMonth, now); ok {
		k.Age = age
	}
}

// mapRepoError translates repository sentinels into service errors. Anything
// unknown is wrapped and stays an infrastructure error.
func mapRepoError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMemberNotFound):
		return ErrMemberNotFound
	case errors.Is(err, repositories.ErrMemberEmailConflict), errors.Is(err, repositories.ErrMemberIDConflict):
		return ErrMemberExists
	case errors.Is(err, repositories.ErrRegistrationNotFound):
		return ErrRegistrationNotFound
	case errors.Is(err, repositories.ErrKidNotFound):
		return ErrKidNotFound
	case errors.Is(err, repositories.ErrKidParentConflict):
		return ErrParentEmailExists
	case errors.Is(err, repositories.ErrKidParentInvalid):
		return ErrParentNotFound
	case errors.Is(err, repositories.ErrParentRequestNotFound):
		return ErrParentRequestNotFound
	case errors.Is(err, repositories.ErrParentRequestParentInvalid):
		return ErrPaymentManagerNotFound
	case errors.Is(err, repositories.ErrEventNotFound), errors.Is(err, repositories.ErrAttendanceEventInvalid):
		return ErrEventNotFound
	case errors.Is(err, repositories.ErrAttendanceNotFound):
		return ErrAttendanceNotFound
	case errors.Is(err, repositories.ErrAttendanceStateChanged):
		return ErrPaymentNotAllowed
	case errors.Is(err, repositories.ErrParticipationNotFound):
		return ErrParticipationNotFound
	case errors.Is(err, repositories.ErrParticipationDuplicate):
		return ErrDuplicateRequest
	}
	var se *ServiceError
	var te *TransitionError
	if errors.As(err, &se) || errors.As(err, &te) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetExtensionFromContentType maps an image content type onto a file extension.
func GetExtensionFromContentType(contentType string) (string, error) {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/gif":
		return ".gif", nil
	case "image/webp":
		return ".webp", nil
	default:
		return "", withDetail(ErrValidationFailed, "unsupported image content type %q", contentType)
	}
}
