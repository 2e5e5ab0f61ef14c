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
)

type FirstSignInInput struct {
	SubjectID  string
	Email      string
	Name       string
	PictureURL *string
	Details    *models.RegistrationDetails
}

type RejectInput struct {
	Reason        models.RejectionReason `json:"reason" validate:"required"`
	Notes         *string                `json:"notes,omitempty" validate:"omitempty,max=1000"`
	AllowResubmit *bool                  `json:"allow_resubmit,omitempty"`
}

type ResubmitInput struct {
	Group               string            `json:"group" validate:"required"`
	MemberType          models.MemberType `json:"member_type" validate:"required"`
	Phone               string            `json:"phone" validate:"required"`
	PaymentManagerEmail *string           `json:"payment_manager_email,omitempty" validate:"omitempty,email"`
}

type RegistrationService interface {
	OnFirstSignIn(ctx context.Context, in FirstSignInInput) (*models.SignInOutcome, error)
	UpdatePendingDetails(ctx context.Context, subjectID string, details models.RegistrationDetails) (*models.RegistrationRequest, error)
	Approve(ctx context.Context, requestID, approverID string, overrides *models.ApprovalOverrides) (string, error)
	Reject(ctx context.Context, requestID, approverID string, in RejectInput) (*models.RegistrationRequest, error)
	Resubmit(ctx context.Context, subjectID string, in ResubmitInput) (*models.RegistrationRequest, error)
	ApproveDelegation(ctx context.Context, parentRequestID, parentID string) (*models.ParentRequest, error)
	RejectDelegation(ctx context.Context, parentRequestID, parentID string, reason *string) (*models.ParentRequest, error)
	ListPending(ctx context.Context) ([]models.RegistrationRequest, error)
	Get(ctx context.Context, requestID string) (*models.RegistrationRequest, error)
	ListParentRequests(ctx context.Context, parentID string) ([]models.ParentRequest, error)
}

type registrationService struct {
	tx             repositories.Transactor
	members        repositories.MemberRepository
	registrations  repositories.RegistrationRepository
	parentRequests repositories.ParentRequestRepository
	notifier       Notifier
	recorder       TransitionRecorder
	logger         *slog.Logger
	now            func() time.Time
}

func NewRegistrationService(
	tx repositories.Transactor,
	members repositories.MemberRepository,
	registrations repositories.RegistrationRepository,
	parentRequests repositories.ParentRequestRepository,
	notifier Notifier,
	recorder TransitionRecorder,
	logger *slog.Logger,
) RegistrationService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &registrationService{
		tx:             tx,
		members:        members,
		registrations:  registrations,
		parentRequests: parentRequests,
		notifier:       notifier,
		recorder:       recorderOrNoop(recorder),
		logger:         logger,
		now:            time.Now,
	}
}

func (s *registrationService) OnFirstSignIn(ctx context.Context, in FirstSignInInput) (*models.SignInOutcome, error) {
	email := normalizeEmail(in.Email)
	if in.SubjectID == "" || email == "" {
		return nil, withDetail(ErrValidationFailed, "subject id and email are required")
	}

	if _, err := s.members.GetByID(ctx, nil, in.SubjectID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, repositories.ErrMemberNotFound) {
		return nil, mapRepoError(err, "look up member")
	}

	existing, err := s.registrations.GetByID(ctx, nil, in.SubjectID)
	if err == nil {
		return s.outcomeFor(ctx, existing)
	}
	if !errors.Is(err, repositories.ErrRegistrationNotFound) {
		return nil, mapRepoError(err, "look up registration")
	}

	details := models.RegistrationDetails{}
	if in.Details != nil {
		details = *in.Details
	}
	if err := validateDetails(details, s.now()); err != nil {
		return nil, err
	}

	req := &models.RegistrationRequest{
		ID:               in.SubjectID,
		Email:            email,
		Name:             strings.TrimSpace(in.Name),
		Status:           models.RegistrationPending,
		PictureURL:       in.PictureURL,
		RejectionHistory: models.RejectionHistory{},
	}
	if req.Name == "" {
		req.Name = email
	}
	applyDetails(req, details)

	var parent *models.Member
	if details.PaymentManagerEmail != nil {
		if parent, err = s.resolvePaymentManager(ctx, *details.PaymentManagerEmail, email); err != nil {
			return nil, err
		}
	}

	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if parent != nil {
			if err := s.attachParentRequest(ctx, exec, req, parent); err != nil {
				return err
			}
		}
		return s.registrations.Create(ctx, exec, req)
	})
	if errors.Is(err, repositories.ErrRegistrationConflict) {
		// Another sign-in for the same subject won the race.
		existing, getErr := s.registrations.GetByID(ctx, nil, in.SubjectID)
		if getErr != nil {
			return nil, mapRepoError(getErr, "reload registration")
		}
		return s.outcomeFor(ctx, existing)
	}
	if err != nil {
		return nil, mapRepoError(err, "create registration")
	}

	s.recorder.RecordTransition("registration", "", string(models.RegistrationPending))
	s.logger.InfoContext(ctx, "registration_created", slog.String("subject_id", req.ID), slog.Bool("payment_manager", parent != nil))
	if parent != nil {
		notify(ctx, s.logger, "payment_manager_requested", func() error {
			return s.notifier.PaymentManagerRequested(ctx, parent.Email, req.Name)
		})
	}

	return &models.SignInOutcome{Status: req.Status, Created: true}, nil
}

func (s *registrationService) outcomeFor(ctx context.Context, req *models.RegistrationRequest) (*models.SignInOutcome, error) {
	if req.Status == models.RegistrationApproved {
		s.logger.ErrorContext(ctx, "registration approved without member", slog.String("subject_id", req.ID))
		return nil, ErrAccountSetup
	}
	out := &models.SignInOutcome{Status: req.Status}
	if req.Status.IsRejected() {
		out.CanResubmit = req.CanResubmit
		out.PreviousValues = &models.RegistrationDetails{
			Group:      req.Group,
			MemberType: req.MemberType,
			Phone:      req.Phone,
			BirthYear:  req.BirthYear,
			BirthMonth: req.BirthMonth,
			Gender:     req.Gender,
		}
		if n := len(req.RejectionHistory); n > 0 {
			last := req.RejectionHistory[n-1]
			out.Rejection = &last
		}
	}
	return out, nil
}

func (s *registrationService) UpdatePendingDetails(ctx context.Context, subjectID string, details models.RegistrationDetails) (*models.RegistrationRequest, error) {
	if err := validateDetails(details, s.now()); err != nil {
		return nil, err
	}

	var req *models.RegistrationRequest
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if req, err = s.registrations.GetForUpdate(ctx, exec, subjectID); err != nil {
			return err
		}
		if req.Status != models.RegistrationPending {
			return ErrRegistrationNotPending
		}
		applyDetails(req, details)

		if details.PaymentManagerEmail != nil {
			if req.ParentRequestID != nil {
				return withDetail(ErrValidationFailed, "payment manager cannot be changed while a request is open")
			}
			parent, err := s.resolvePaymentManager(ctx, *details.PaymentManagerEmail, req.Email)
			if err != nil {
				return err
			}
			if err := s.attachParentRequest(ctx, exec, req, parent); err != nil {
				return err
			}
		}
		return s.registrations.Update(ctx, exec, req)
	})
	if err != nil {
		return nil, mapRepoError(err, "update registration details")
	}
	return req, nil
}

func (s *registrationService) Approve(ctx context.Context, requestID, approverID string, overrides *models.ApprovalOverrides) (string, error) {
	now := s.now()
	var member *models.Member
	var fromStatus models.RegistrationStatus

	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		req, err := s.registrations.GetForUpdate(ctx, exec, requestID)
		if err != nil {
			return err
		}
		if req.Status == models.RegistrationApproved {
			return ErrAlreadyApproved
		}
		fromStatus = req.Status

		group, memberType, phone, birthYear, paymentManagerID := req.Group, req.MemberType, req.Phone, req.BirthYear, req.PaymentManagerID
		if overrides != nil {
			if overrides.Group != nil {
				group = overrides.Group
			}
			if overrides.MemberType != nil {
				memberType = overrides.MemberType
			}
			if overrides.Phone != nil {
				phone = overrides.Phone
			}
			if overrides.BirthYear != nil {
				birthYear = overrides.BirthYear
			}
			if overrides.PaymentManagerID != nil {
				paymentManagerID = overrides.PaymentManagerID
			}
		}
		if memberType != nil && !memberType.Valid() {
			return withDetail(ErrValidationFailed, "invalid member type %q", *memberType)
		}
		if paymentManagerID != nil && *paymentManagerID == "" {
			paymentManagerID = nil
		}
		if req.ParentRequestID != nil {
			if err := s.settleParentRequest(ctx, exec, *req.ParentRequestID, paymentManagerID, approverID, now); err != nil {
				return err
			}
		}
		if paymentManagerID != nil {
			if _, err := s.members.GetByID(ctx, exec, *paymentManagerID); err != nil {
				if errors.Is(err, repositories.ErrMemberNotFound) {
					return ErrPaymentManagerNotFound
				}
				return err
			}
		}

		groups := rules.NormalizeGroups(nil, group)
		var mt models.MemberType
		if memberType != nil {
			mt = *memberType
		}
		completed := rules.ProfileComplete(groups, mt, phone, birthYear)
		if mt == "" {
			mt = models.MemberTypeStandard
		}

		member = &models.Member{
			ID:               req.ID,
			Email:            req.Email,
			Name:             req.Name,
			Role:             models.RolePlayer,
			Status:           models.MemberActive,
			Gender:           req.Gender,
			PaysViaParent:    paymentManagerID != nil,
			Groups:           groups,
			MemberType:       mt,
			Phone:            phone,
			BirthYear:        birthYear,
			BirthMonth:       req.BirthMonth,
			PaymentManagerID: paymentManagerID,
			ActiveProfileID:  req.ID,
			ProfileCompleted: completed,
			PictureURL:       req.PictureURL,
			ApprovedBy:       strPtr(approverID),
			ApprovedAt:       timePtr(now),
		}
		if err := s.members.Create(ctx, exec, member); err != nil {
			return err
		}
		if err := s.members.AppendHistory(ctx, exec, &models.StatusHistoryEntry{
			MemberID:   member.ID,
			Action:     "approve",
			FromStatus: string(fromStatus),
			ToStatus:   models.MemberActive,
			ActorID:    approverID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := s.registrations.Delete(ctx, exec, req.ID); err != nil {
			return err
		}
		if paymentManagerID != nil {
			return s.members.AddLinkedYouth(ctx, exec, *paymentManagerID, member.ID)
		}
		return nil
	})
	if err != nil {
		return "", mapRepoError(err, "approve registration")
	}

	s.recorder.RecordTransition("registration", string(fromStatus), string(models.RegistrationApproved))
	s.logger.InfoContext(ctx, "registration_approved",
		slog.String("subject_id", member.ID),
		slog.String("approved_by", approverID),
		slog.Bool("profile_completed", member.ProfileCompleted))
	notify(ctx, s.logger, "registration_approved", func() error {
		return s.notifier.RegistrationApproved(ctx, member.Email, member.Name)
	})
	return member.ID, nil
}

func (s *registrationService) Reject(ctx context.Context, requestID, approverID string, in RejectInput) (*models.RegistrationRequest, error) {
	if !in.Reason.Valid() {
		return nil, ErrInvalidRejectionReason
	}
	allowResubmit := true
	if in.AllowResubmit != nil {
		allowResubmit = *in.AllowResubmit
	}
	now := s.now()

	var req *models.RegistrationRequest
	var fromStatus models.RegistrationStatus
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if req, err = s.registrations.GetForUpdate(ctx, exec, requestID); err != nil {
			return err
		}
		if req.Status == models.RegistrationApproved {
			return ErrAlreadyApproved
		}
		fromStatus = req.Status

		reason := in.Reason
		req.RejectionHistory = append(req.RejectionHistory, models.RejectionEntry{
			Reason:        reason,
			Notes:         in.Notes,
			RejectedBy:    approverID,
			RejectedAt:    now,
			AllowResubmit: allowResubmit,
		})
		req.Status = models.RegistrationRejected
		req.RejectionReason = &reason
		req.RejectionNotes = in.Notes
		req.RejectedAt = timePtr(now)
		req.RejectedBy = strPtr(approverID)
		req.CanResubmit = allowResubmit
		return s.registrations.Update(ctx, exec, req)
	})
	if err != nil {
		return nil, mapRepoError(err, "reject registration")
	}

	s.recorder.RecordTransition("registration", string(fromStatus), string(models.RegistrationRejected))
	s.logger.InfoContext(ctx, "registration_rejected",
		slog.String("subject_id", req.ID),
		slog.String("reason", string(in.Reason)),
		slog.Bool("can_resubmit", allowResubmit))
	notify(ctx, s.logger, "registration_rejected", func() error {
		return s.notifier.RegistrationRejected(ctx, req.Email, req.Name, string(in.Reason), allowResubmit)
	})
	return req, nil
}

func (s *registrationService) Resubmit(ctx context.Context, subjectID string, in ResubmitInput) (*models.RegistrationRequest, error) {
	var req *models.RegistrationRequest
	var fromStatus models.RegistrationStatus
	var parent *models.Member

	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if req, err = s.registrations.GetForUpdate(ctx, exec, subjectID); err != nil {
			return err
		}
		if !req.Status.IsRejected() {
			return ErrNotInRejectedState
		}
		if !req.CanResubmit {
			return ErrResubmissionDisallowed
		}

		group, err := validateResubmission(in)
		if err != nil {
			return err
		}
		if in.PaymentManagerEmail != nil {
			if parent, err = s.resolvePaymentManager(ctx, *in.PaymentManagerEmail, req.Email); err != nil {
				return err
			}
		}

		fromStatus = req.Status
		phone := strings.TrimSpace(in.Phone)
		memberType := in.MemberType

		req.Status = models.RegistrationPending
		req.ResubmissionCount++
		req.LastRejectionReason = req.RejectionReason
		req.LastRejectionAt = req.RejectedAt
		req.RejectionReason = nil
		req.RejectionNotes = nil
		req.RejectedAt = nil
		req.RejectedBy = nil
		req.CanResubmit = false
		req.Group = &group
		req.MemberType = &memberType
		req.Phone = &phone

		switch {
		case parent != nil:
			if err := s.attachParentRequest(ctx, exec, req, parent); err != nil {
				return err
			}
		case fromStatus == models.RegistrationRejectedByParent:
			// The designated parent declined; continue without a payment manager.
			req.PaymentManagerID = nil
			req.ParentRequestID = nil
		}
		return s.registrations.Update(ctx, exec, req)
	})
	if err != nil {
		return nil, mapRepoError(err, "resubmit registration")
	}

	s.recorder.RecordTransition("registration", string(fromStatus), string(models.RegistrationPending))
	s.logger.InfoContext(ctx, "registration_resubmitted",
		slog.String("subject_id", req.ID),
		slog.Int("resubmission_count", req.ResubmissionCount))
	if parent != nil {
		notify(ctx, s.logger, "payment_manager_requested", func() error {
			return s.notifier.PaymentManagerRequested(ctx, parent.Email, req.Name)
		})
	}
	return req, nil
}

func (s *registrationService) ApproveDelegation(ctx context.Context, parentRequestID, parentID string) (*models.ParentRequest, error) {
	return s.resolveDelegation(ctx, parentRequestID, parentID, true, nil)
}

func (s *registrationService) RejectDelegation(ctx context.Context, parentRequestID, parentID string, reason *string) (*models.ParentRequest, error) {
	return s.resolveDelegation(ctx, parentRequestID, parentID, false, reason)
}

// resolveDelegation moves the parent request and the youth's registration together.
// Approval does not link parent and youth yet; that happens on admin approval.
func (s *registrationService) resolveDelegation(ctx context.Context, parentRequestID, parentID string, approve bool, reason *string) (*models.ParentRequest, error) {
	now := s.now()
	var pr *models.ParentRequest
	var regTo models.RegistrationStatus

	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if pr, err = s.parentRequests.GetForUpdate(ctx, exec, parentRequestID); err != nil {
			return err
		}
		if pr.ParentID != parentID {
			return ErrNotDesignatedParent
		}
		if pr.Status != models.ParentRequestPending {
			return ErrParentRequestResolved
		}

		req, err := s.registrations.GetForUpdate(ctx, exec, pr.YouthID)
		if err != nil {
			return err
		}
		if req.Status != models.RegistrationPending {
			return ErrRegistrationNotPending
		}

		prStatus := models.ParentRequestRejected
		if approve {
			prStatus = models.ParentRequestApproved
			regTo = models.RegistrationPendingAdminApproval
			req.Status = regTo
		} else {
			regTo = models.RegistrationRejectedByParent
			req.Status = regTo
			req.CanResubmit = true
			req.RejectedAt = timePtr(now)
			req.RejectedBy = strPtr(parentID)
			req.RejectionNotes = reason
			req.RejectionHistory = append(req.RejectionHistory, models.RejectionEntry{
				Reason:        models.RejectionOther,
				Notes:         reason,
				RejectedBy:    parentID,
				RejectedAt:    now,
				AllowResubmit: true,
			})
		}

		if err := s.parentRequests.Resolve(ctx, exec, pr.ID, prStatus, parentID, reason, now); err != nil {
			return err
		}
		pr.Status = prStatus
		pr.ResolvedBy = strPtr(parentID)
		pr.ResolvedAt = timePtr(now)
		pr.Reason = reason
		return s.registrations.Update(ctx, exec, req)
	})
	if err != nil {
		return nil, mapRepoError(err, "resolve parent request")
	}

	s.recorder.RecordTransition("parent_request", string(models.ParentRequestPending), string(pr.Status))
	s.recorder.RecordTransition("registration", string(models.RegistrationPending), string(regTo))
	s.logger.InfoContext(ctx, "parent_request_resolved",
		slog.String("parent_request_id", pr.ID),
		slog.String("youth_id", pr.YouthID),
		slog.String("status", string(pr.Status)))
	return pr, nil
}

func (s *registrationService) ListPending(ctx context.Context) ([]models.RegistrationRequest, error) {
	reqs, err := s.registrations.ListByStatus(ctx, models.RegistrationPending, models.RegistrationPendingAdminApproval)
	if err != nil {
		return nil, mapRepoError(err, "list pending registrations")
	}
	return reqs, nil
}

func (s *registrationService) Get(ctx context.Context, requestID string) (*models.RegistrationRequest, error) {
	req, err := s.registrations.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, mapRepoError(err, "get registration")
	}
	return req, nil
}

func (s *registrationService) ListParentRequests(ctx context.Context, parentID string) ([]models.ParentRequest, error) {
	prs, err := s.parentRequests.ListByParent(ctx, parentID, nil)
	if err != nil {
		return nil, mapRepoError(err, "list parent requests")
	}
	return prs, nil
}

func (s *registrationService) resolvePaymentManager(ctx context.Context, rawEmail, youthEmail string) (*models.Member, error) {
	email := normalizeEmail(rawEmail)
	if email == "" || email == normalizeEmail(youthEmail) {
		return nil, ErrPaymentManagerNotFound
	}
	parent, err := s.members.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			return nil, ErrPaymentManagerNotFound
		}
		return nil, mapRepoError(err, "look up payment manager")
	}
	if parent.Status != models.MemberActive {
		return nil, ErrPaymentManagerNotFound
	}
	return parent, nil
}

func (s *registrationService) attachParentRequest(ctx context.Context, exec repositories.SQLExecutor, req *models.RegistrationRequest, parent *models.Member) error {
	pr := &models.ParentRequest{
		ID:          uuid.NewString(),
		ParentID:    parent.ID,
		YouthID:     req.ID,
		YouthName:   req.Name,
		YouthEmail:  req.Email,
		YouthGroups: rules.NormalizeGroups(nil, req.Group),
		Status:      models.ParentRequestPending,
	}
	if err := s.parentRequests.Create(ctx, exec, pr); err != nil {
		return err
	}
	req.PaymentManagerID = strPtr(parent.ID)
	req.ParentRequestID = strPtr(pr.ID)
	return nil
}

// settleParentRequest makes sure a youth is linked to a parent only with that
// parent's consent. An open request for a parent the admin replaced is closed.
func (s *registrationService) settleParentRequest(ctx context.Context, exec repositories.SQLExecutor, id string, managerID *string, approverID string, now time.Time) error {
	pr, err := s.parentRequests.GetForUpdate(ctx, exec, id)
	if err != nil {
		if errors.Is(err, repositories.ErrParentRequestNotFound) {
			return nil
		}
		return err
	}
	sameParent := managerID != nil && *managerID == pr.ParentID

	switch pr.Status {
	case models.ParentRequestApproved:
		return nil
	case models.ParentRequestPending:
		if sameParent {
			return ErrAwaitingParentConsent
		}
		reason := "superseded by admin approval"
		return s.parentRequests.Resolve(ctx, exec, pr.ID, models.ParentRequestRejected, approverID, &reason, now)
	default:
		if sameParent {
			return withDetail(ErrAwaitingParentConsent, "the payment manager declined the request")
		}
		return nil
	}
}

func validateDetails(d models.RegistrationDetails, now time.Time) error {
	if d.Group != nil {
		if _, ok := rules.CanonicalGroup(*d.Group); !ok {
			return withDetail(ErrValidationFailed, "unknown group %q", *d.Group)
		}
	}
	if d.MemberType != nil && !d.MemberType.Valid() {
		return withDetail(ErrValidationFailed, "member_type must be standard or student")
	}
	if d.Phone != nil && strings.TrimSpace(*d.Phone) == "" {
		return withDetail(ErrValidationFailed, "phone must not be blank")
	}
	if d.BirthYear != nil && (*d.BirthYear < 1900 || *d.BirthYear > now.Year()) {
		return withDetail(ErrValidationFailed, "birth_year is out of range")
	}
	if d.BirthMonth != nil && (*d.BirthMonth < 1 || *d.BirthMonth > 12) {
		return withDetail(ErrValidationFailed, "birth_month must be between 1 and 12")
	}
	return nil
}

func applyDetails(req *models.RegistrationRequest, d models.RegistrationDetails) {
	if d.Group != nil {
		g, _ := rules.CanonicalGroup(*d.Group)
		req.Group = &g
	}
	if d.MemberType != nil {
		mt := *d.MemberType
		req.MemberType = &mt
	}
	if d.Phone != nil {
		req.Phone = strPtr(strings.TrimSpace(*d.Phone))
	}
	if d.BirthYear != nil {
		req.BirthYear = d.BirthYear
	}
	if d.BirthMonth != nil {
		req.BirthMonth = d.BirthMonth
	}
	if d.Gender != nil {
		req.Gender = d.Gender
	}
}

// validateResubmission returns the canonical group. Only the adult cohorts are
// accepted on the resubmission form.
func validateResubmission(in ResubmitInput) (string, error) {
	var group string
	switch strings.ToLower(strings.TrimSpace(in.Group)) {
	case "men":
		group = rules.GroupMen
	case "women":
		group = rules.GroupWomen
	default:
		return "", withDetail(ErrValidationFailed, "group must be men or women")
	}
	if !in.MemberType.Valid() {
		return "", withDetail(ErrValidationFailed, "member_type must be standard or student")
	}
	if strings.TrimSpace(in.Phone) == "" {
		return "", withDetail(ErrValidationFailed, "phone is required")
	}
	return group, nil
}
