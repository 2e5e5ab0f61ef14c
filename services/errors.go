package services

import (
	"errors"
	"fmt"
)

// ErrorKind groups service errors by how a caller should react to them. Handlers map
// kinds to HTTP status codes.
type ErrorKind int

const (
	KindInfrastructure ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindStateConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	default:
		return "infrastructure"
	}
}

// ServiceError is a sentinel with a kind. Compare with errors.Is against the
// package-level values below.
type ServiceError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ServiceError) Error() string {
	return e.Msg
}

func newError(kind ErrorKind, msg string) *ServiceError {
	return &ServiceError{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first ServiceError in err's chain.
// Anything unclassified is infrastructure.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return KindStateConflict
	}
	return KindInfrastructure
}

// withDetail keeps the sentinel in the chain and adds context to the message.
func withDetail(sentinel *ServiceError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Общие ошибки
var (
	ErrValidationFailed     = newError(KindValidation, "validation failed")
	ErrForbiddenOperation   = newError(KindAuthorization, "operation not allowed for the current user")
	ErrAuthenticationFailed = newError(KindAuthentication, "authentication failed")
	ErrInvalidToken         = newError(KindAuthentication, "invalid or expired token")
	ErrUploadsDisabled      = newError(KindValidation, "file uploads are not configured")
)

// Регистрация
var (
	ErrRegistrationNotFound   = newError(KindNotFound, "registration request not found")
	ErrAccountSetup           = newError(KindStateConflict, "registration was approved but the member account is missing; contact an administrator")
	ErrAlreadyApproved        = newError(KindStateConflict, "registration request is already approved")
	ErrNotInRejectedState     = newError(KindStateConflict, "registration request is not in a rejected state")
	ErrResubmissionDisallowed = newError(KindAuthorization, "resubmission is not allowed for this registration")
	ErrInvalidRejectionReason = newError(KindValidation, "invalid rejection reason")
	ErrRegistrationNotPending = newError(KindStateConflict, "registration request is not pending")
	ErrPaymentManagerNotFound = newError(KindValidation, "payment manager email does not belong to an active member")
	ErrMemberExists           = newError(KindStateConflict, "a member with this id or email already exists")
	ErrParentRequestNotFound  = newError(KindNotFound, "parent request not found")
	ErrNotDesignatedParent    = newError(KindAuthorization, "only the designated parent can resolve this request")
	ErrParentRequestResolved  = newError(KindStateConflict, "parent request has already been resolved")
	ErrAlreadyMember          = newError(KindStateConflict, "subject is already a member")
	ErrAwaitingParentConsent  = newError(KindStateConflict, "the payment manager has not approved this registration")
)

// Статусы участников
var (
	ErrMemberNotFound    = newError(KindNotFound, "member not found")
	ErrSelfStatusChange  = newError(KindAuthorization, "you cannot change your own status")
	ErrLastAdmin         = newError(KindAuthorization, "cannot disable or remove the last active admin")
	ErrInvalidAction     = newError(KindValidation, "invalid status action")
	ErrInvalidTransition = newError(KindStateConflict, "invalid status transition")
	ErrInvalidRole       = newError(KindValidation, "invalid role")
	ErrAccountDisabled   = newError(KindAuthorization, "account is disabled")
	ErrAccountRemoved    = newError(KindAuthorization, "account has been removed")
)

// Делегирование и профили
var (
	ErrKidNotFound        = newError(KindNotFound, "kid profile not found")
	ErrParentEmailExists  = newError(KindStateConflict, "this parent is already linked to the kid")
	ErrParentNotFound     = newError(KindNotFound, "no member found with that parent email")
	ErrNotAccessible      = newError(KindAuthorization, "profile is not accessible to the current member")
	ErrKidStatusUnchanged = newError(KindStateConflict, "kid profile is already in the requested state")
)

// События
var (
	ErrEventNotFound    = newError(KindNotFound, "event not found")
	ErrEventStarted     = newError(KindAuthorization, "event has already started")
	ErrEventInPast      = newError(KindValidation, "event start time must be in the future")
	ErrEventLocked      = newError(KindStateConflict, "event has already started and can no longer be changed")
	ErrEventCancelled   = newError(KindStateConflict, "event is cancelled")
	ErrInvalidEventType = newError(KindValidation, "invalid event type")
	ErrNegativeFee      = newError(KindValidation, "fee must not be negative")
)

// Посещаемость и платежи
var (
	ErrAttendanceCutoff     = newError(KindAuthorization, "RSVP is closed: changes are not allowed within 48 hours of the start")
	ErrAttendanceNotFound   = newError(KindNotFound, "attendance record not found")
	ErrPaymentNotAllowed    = newError(KindStateConflict, "payment cannot be marked in the current payment state")
	ErrNotAttendedYet       = newError(KindAuthorization, "attendance must be confirmed before payment can be marked")
	ErrNotAttending         = newError(KindStateConflict, "subject is not attending this event")
	ErrNothingToPay         = newError(KindStateConflict, "there is nothing to pay for this event")
	ErrNoValidPayments      = newError(KindValidation, "no valid payments to update")
	ErrInvalidPaymentStatus = newError(KindValidation, "status must be one of paid, pending, unpaid, rejected")
	ErrSubjectEventMismatch = newError(KindValidation, "kid subjects may only attend kids events and adults only adult events")
	ErrSubjectNotFound      = newError(KindNotFound, "subject not found")
)

// Запросы на участие
var (
	ErrTooEarly              = newError(KindAuthorization, "participation requests are only accepted after the RSVP cutoff")
	ErrParticipationDisabled = newError(KindAuthorization, "participation requests are not enabled for this event")
	ErrDuplicateRequest      = newError(KindStateConflict, "a participation request already exists for this event")
	ErrParticipationNotFound = newError(KindNotFound, "participation request not found")
	ErrParticipationResolved = newError(KindStateConflict, "participation request has already been resolved")
)

// TransitionError reports a status action that is not valid from the member's
// current state. errors.Is(err, ErrInvalidTransition) holds for it.
type TransitionError struct {
	Action  string
	Current string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a member whose status is %s", e.Action, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
