package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/rules"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type EventInput struct {
	Title                 string           `json:"title" validate:"required,max=200"`
	Description           *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Type                  models.EventType `json:"type" validate:"required"`
	TargetGroups          []string         `json:"target_groups,omitempty"`
	Fee                   float64          `json:"fee" validate:"gte=0"`
	StartsAt              time.Time        `json:"starts_at" validate:"required"`
	Location              *string          `json:"location,omitempty" validate:"omitempty,max=200"`
	KidsEvent             bool             `json:"kids_event"`
	AttendanceCutoffHours *int             `json:"attendance_cutoff_hours,omitempty" validate:"omitempty,min=0,max=720"`
}

type EventService interface {
	Create(ctx context.Context, adminID string, in EventInput) (*models.Event, error)
	Update(ctx context.Context, adminID, eventID string, in EventInput) (*models.Event, error)
	Cancel(ctx context.Context, adminID, eventID string) (*models.Event, error)
	Delete(ctx context.Context, adminID, eventID string) error
	Get(ctx context.Context, eventID string) (*models.Event, error)
	GetWithDetails(ctx context.Context, eventID string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter, subject *models.Subject) ([]models.Event, error)
}

type eventService struct {
	tx             repositories.Transactor
	events         repositories.EventRepository
	attendance     repositories.AttendanceRepository
	participations repositories.ParticipationRepository
	recorder       TransitionRecorder
	logger         *slog.Logger
	now            func() time.Time
}

func NewEventService(
	tx repositories.Transactor,
	events repositories.EventRepository,
	attendance repositories.AttendanceRepository,
	participations repositories.ParticipationRepository,
	recorder TransitionRecorder,
	logger *slog.Logger,
) EventService {
	return &eventService{
		tx:             tx,
		events:         events,
		attendance:     attendance,
		participations: participations,
		recorder:       recorderOrNoop(recorder),
		logger:         logger,
		now:            time.Now,
	}
}

func (s *eventService) validate(in EventInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return withDetail(ErrValidationFailed, "title is required")
	}
	if !in.Type.Valid() {
		return ErrInvalidEventType
	}
	if in.Fee < 0 || math.IsNaN(in.Fee) || math.IsInf(in.Fee, 0) {
		return ErrNegativeFee
	}
	if in.StartsAt.IsZero() {
		return withDetail(ErrValidationFailed, "starts_at is required")
	}
	// Membership fees are often agreed retroactively.
	if in.Type != models.EventMembershipFee && !in.StartsAt.After(s.now()) {
		return ErrEventInPast
	}
	if in.AttendanceCutoffHours != nil && *in.AttendanceCutoffHours < 0 {
		return withDetail(ErrValidationFailed, "attendance_cutoff_hours must not be negative")
	}
	return nil
}

func applyEventInput(e *models.Event, in EventInput) {
	e.Title = strings.TrimSpace(in.Title)
	e.Description = in.Description
	e.Type = in.Type
	e.TargetGroups = rules.NormalizeGroups(in.TargetGroups, nil)
	e.Fee = math.Round(in.Fee*100) / 100
	e.StartsAt = in.StartsAt.UTC()
	e.Location = in.Location
	e.KidsEvent = in.KidsEvent
	e.AttendanceCutoffHours = in.AttendanceCutoffHours
}

func (s *eventService) Create(ctx context.Context, adminID string, in EventInput) (*models.Event, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		Status:    models.EventScheduled,
		CreatedBy: adminID,
	}
	applyEventInput(event, in)

	if err := s.events.Create(ctx, event); err != nil {
		return nil, mapRepoError(err, "create event")
	}

	s.recorder.RecordTransition("event", "", string(models.EventScheduled))
	s.logger.InfoContext(ctx, "event_created",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.Time("starts_at", event.StartsAt),
		slog.String("created_by", adminID))
	return event, nil
}

// locked reports whether the event can no longer be edited or deleted.
func (s *eventService) locked(e *models.Event) bool {
	return e.Type != models.EventMembershipFee && e.HasStarted(s.now())
}

func (s *eventService) Update(ctx context.Context, adminID, eventID string, in EventInput) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "get event")
	}
	if event.IsCancelled() {
		return nil, ErrEventCancelled
	}
	if s.locked(event) {
		return nil, ErrEventLocked
	}
	if err := s.validate(in); err != nil {
		return nil, err
	}

	applyEventInput(event, in)
	event.UpdatedBy = strPtr(adminID)
	if err := s.events.Update(ctx, event); err != nil {
		return nil, mapRepoError(err, "update event")
	}

	s.logger.InfoContext(ctx, "event_updated", slog.String("event_id", event.ID), slog.String("updated_by", adminID))
	return event, nil
}

func (s *eventService) Cancel(ctx context.Context, adminID, eventID string) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "get event")
	}
	if event.IsCancelled() {
		return nil, ErrEventCancelled
	}
	if err := s.events.UpdateStatus(ctx, nil, event.ID, models.EventCancelled, adminID); err != nil {
		return nil, mapRepoError(err, "cancel event")
	}
	event.Status = models.EventCancelled
	event.UpdatedBy = strPtr(adminID)

	s.recorder.RecordTransition("event", string(models.EventScheduled), string(models.EventCancelled))
	s.logger.InfoContext(ctx, "event_cancelled", slog.String("event_id", event.ID), slog.String("cancelled_by", adminID))
	return event, nil
}

func (s *eventService) Delete(ctx context.Context, adminID, eventID string) error {
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		event, err := s.events.GetByID(ctx, exec, eventID)
		if err != nil {
			return err
		}
		if s.locked(event) {
			return ErrEventLocked
		}
		return s.events.Delete(ctx, exec, event.ID)
	})
	if err != nil {
		return mapRepoError(err, "delete event")
	}
	s.logger.InfoContext(ctx, "event_deleted", slog.String("event_id", eventID), slog.String("deleted_by", adminID))
	return nil
}

func (s *eventService) Get(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "get event")
	}
	return event, nil
}

// GetWithDetails loads the event with its attendance records and participation
// requests.
func (s *eventService) GetWithDetails(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.attendance.ListByEvent(gCtx, nil, eventID)
		if err != nil {
			return err
		}
		event.Attendance = records
		return nil
	})
	g.Go(func() error {
		requests, err := s.participations.ListByEvent(gCtx, nil, eventID)
		if err != nil {
			return err
		}
		event.ParticipationRequests = requests
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "failed to load event details", slog.String("event_id", eventID), slog.Any("error", err))
		return nil, mapRepoError(err, "load event details")
	}
	return event, nil
}

// List returns events matching filter. With a subject, only events that target the
// subject's groups and match its kid/adult kind are returned.
func (s *eventService) List(ctx context.Context, filter models.EventFilter, subject *models.Subject) ([]models.Event, error) {
	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err, "list events")
	}
	if subject == nil {
		return events, nil
	}

	visible := make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.KidsEvent != (subject.Type == models.SubjectKid) {
			continue
		}
		if !e.KidsEvent && !rules.GroupsOverlap(e.TargetGroups, subject.Groups) {
			continue
		}
		visible = append(visible, e)
	}
	return visible, nil
}
