package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/rules"
)

type ParticipationService interface {
	RequestParticipation(ctx context.Context, eventID, memberID, subjectID string) (*models.ParticipationRequest, error)
	Approve(ctx context.Context, requestID, adminID string) (*models.ParticipationRequest, error)
	Reject(ctx context.Context, requestID, adminID string) (*models.ParticipationRequest, error)
	ListForEvent(ctx context.Context, eventID string) ([]models.ParticipationRequest, error)
}

type participationService struct {
	tx             repositories.Transactor
	events         repositories.EventRepository
	attendance     repositories.AttendanceRepository
	participations repositories.ParticipationRepository
	subjects       SubjectResolver
	recorder       TransitionRecorder
	logger         *slog.Logger
	now            func() time.Time
}

func NewParticipationService(
	tx repositories.Transactor,
	events repositories.EventRepository,
	attendance repositories.AttendanceRepository,
	participations repositories.ParticipationRepository,
	subjects SubjectResolver,
	recorder TransitionRecorder,
	logger *slog.Logger,
) ParticipationService {
	return &participationService{
		tx:             tx,
		events:         events,
		attendance:     attendance,
		participations: participations,
		subjects:       subjects,
		recorder:       recorderOrNoop(recorder),
		logger:         logger,
		now:            time.Now,
	}
}

// RequestParticipation accepts late requests inside [start-cutoff, start).
func (s *participationService) RequestParticipation(ctx context.Context, eventID, memberID, subjectID string) (*models.ParticipationRequest, error) {
	subject, err := s.subjects.ResolveSubject(ctx, memberID, subjectID)
	if err != nil {
		return nil, err
	}
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "get event")
	}
	if event.IsCancelled() {
		return nil, ErrEventCancelled
	}
	if !subjectMatchesEvent(subject, event) {
		return nil, ErrSubjectEventMismatch
	}

	cutoff := rules.ParticipationCutoff(event)
	if cutoff == 0 {
		return nil, ErrParticipationDisabled
	}
	now := s.now()
	if event.HasStarted(now) {
		return nil, ErrEventStarted
	}
	if now.Before(event.StartsAt.Add(-cutoff)) {
		return nil, ErrTooEarly
	}

	req := &models.ParticipationRequest{
		ID:          models.ParticipationRequestID(event.ID, subject.ID),
		EventID:     event.ID,
		SubjectID:   subject.ID,
		SubjectType: subject.Type,
		SubjectName: subject.Name,
		RequesterID: memberID,
		Status:      models.ParticipationPending,
	}
	if err := s.participations.CreateIfAbsent(ctx, nil, req); err != nil {
		return nil, mapRepoError(err, "create participation request")
	}

	s.recorder.RecordTransition("participation", "", string(models.ParticipationPending))
	s.logger.InfoContext(ctx, "participation_requested",
		slog.String("request_id", req.ID),
		slog.String("event_id", event.ID),
		slog.String("subject_id", subject.ID),
		slog.String("requester_id", memberID))
	return req, nil
}

// Approve resolves the request and counts the subject as attending and attended in
// the same transaction.
func (s *participationService) Approve(ctx context.Context, requestID, adminID string) (*models.ParticipationRequest, error) {
	now := s.now()
	var req *models.ParticipationRequest
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if req, err = s.lockPending(ctx, exec, requestID); err != nil {
			return err
		}
		event, err := s.events.GetByID(ctx, exec, req.EventID)
		if err != nil {
			return err
		}
		subject, err := s.subjects.LookupSubject(ctx, req.SubjectID)
		if errors.Is(err, ErrSubjectNotFound) {
			subject = &models.Subject{ID: req.SubjectID, Type: req.SubjectType, Name: req.SubjectName, MemberType: models.MemberTypeStandard}
		} else if err != nil {
			return err
		}

		existing, err := s.attendance.Get(ctx, exec, event.ID, subject.ID)
		if err != nil && !errors.Is(err, repositories.ErrAttendanceNotFound) {
			return err
		}
		if err := s.participations.Resolve(ctx, exec, req.ID, models.ParticipationApproved, adminID, now); err != nil {
			return err
		}
		return s.attendance.Upsert(ctx, exec, attendanceSnapshot(event, subject, existing, true, true, now))
	})
	if err != nil {
		return nil, mapRepoError(err, "approve participation request")
	}
	return s.resolved(ctx, req, models.ParticipationApproved, adminID, now), nil
}

func (s *participationService) Reject(ctx context.Context, requestID, adminID string) (*models.ParticipationRequest, error) {
	now := s.now()
	var req *models.ParticipationRequest
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if req, err = s.lockPending(ctx, exec, requestID); err != nil {
			return err
		}
		return s.participations.Resolve(ctx, exec, req.ID, models.ParticipationRejected, adminID, now)
	})
	if err != nil {
		return nil, mapRepoError(err, "reject participation request")
	}
	return s.resolved(ctx, req, models.ParticipationRejected, adminID, now), nil
}

func (s *participationService) lockPending(ctx context.Context, exec repositories.SQLExecutor, requestID string) (*models.ParticipationRequest, error) {
	req, err := s.participations.GetForUpdate(ctx, exec, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ParticipationPending {
		return nil, ErrParticipationResolved
	}
	return req, nil
}

func (s *participationService) resolved(ctx context.Context, req *models.ParticipationRequest, status models.ParticipationStatus, adminID string, at time.Time) *models.ParticipationRequest {
	req.Status = status
	req.ResolvedBy = strPtr(adminID)
	req.ResolvedAt = timePtr(at)

	s.recorder.RecordTransition("participation", string(models.ParticipationPending), string(status))
	s.logger.InfoContext(ctx, "participation_resolved",
		slog.String("request_id", req.ID),
		slog.String("status", string(status)),
		slog.String("actor_id", adminID))
	return req
}

func (s *participationService) ListForEvent(ctx context.Context, eventID string) ([]models.ParticipationRequest, error) {
	if _, err := s.events.GetByID(ctx, nil, eventID); err != nil {
		return nil, mapRepoError(err, "get event")
	}
	requests, err := s.participations.ListByEvent(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "list participation requests")
	}
	return requests, nil
}
