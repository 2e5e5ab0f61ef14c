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
	"golang.org/x/sync/errgroup"
)

const subjectLookupConcurrency = 8

type PaymentConfirmationInput struct {
	Payments []models.PaymentUpdate `json:"payments" validate:"required,min=1"`
	Status   string                 `json:"status" validate:"required"`
}

type AttendanceService interface {
	SetAttending(ctx context.Context, eventID, memberID, subjectID string, attending bool) (*models.AttendanceRecord, error)
	MarkPaid(ctx context.Context, eventID, memberID, subjectID string) (*models.AttendanceRecord, error)
	AdminConfirmPayments(ctx context.Context, adminID string, in PaymentConfirmationInput) (int, error)
	AdminAddPastAttendees(ctx context.Context, adminID, eventID string, subjectIDs []string) ([]models.AttendanceRecord, error)
	AdminSetAttended(ctx context.Context, adminID, eventID, subjectID string, attended bool) (*models.AttendanceRecord, error)
	ListForEvent(ctx context.Context, eventID string) ([]models.AttendanceRecord, error)
}

type attendanceService struct {
	tx         repositories.Transactor
	events     repositories.EventRepository
	attendance repositories.AttendanceRepository
	subjects   SubjectResolver
	recorder   TransitionRecorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewAttendanceService(
	tx repositories.Transactor,
	events repositories.EventRepository,
	attendance repositories.AttendanceRepository,
	subjects SubjectResolver,
	recorder TransitionRecorder,
	logger *slog.Logger,
) AttendanceService {
	return &attendanceService{
		tx:         tx,
		events:     events,
		attendance: attendance,
		subjects:   subjects,
		recorder:   recorderOrNoop(recorder),
		logger:     logger,
		now:        time.Now,
	}
}

// attendanceSnapshot builds the record written for subject at event. Payment audit
// fields of an existing record are carried over; the repository never overwrites them.
func attendanceSnapshot(event *models.Event, subject *models.Subject, existing *models.AttendanceRecord, attending, attended bool, now time.Time) *models.AttendanceRecord {
	fee := rules.FeeDue(event.Fee, subject.MemberType)
	rec := &models.AttendanceRecord{}
	current := models.PaymentNone
	if existing != nil {
		*rec = *existing
		current = existing.PaymentStatus
	}
	rec.EventID = event.ID
	rec.SubjectID = subject.ID
	rec.SubjectType = subject.Type
	rec.Name = subject.Name
	rec.Email = nil
	if subject.Email != "" {
		rec.Email = strPtr(subject.Email)
	}
	rec.Category = subject.Category
	rec.Groups = subject.Groups
	rec.Attending = attending
	rec.Attended = attended
	rec.FeeDue = fee
	rec.PaymentStatus = rules.InitialPaymentStatus(current, attending, fee)
	switch {
	case subject.RecordStatus != "":
		rec.RecordStatus = subject.RecordStatus
	case rec.RecordStatus == "":
		rec.RecordStatus = models.RecordActive
	}
	rec.RespondedAt = timePtr(now)
	return rec
}

func subjectMatchesEvent(subject *models.Subject, event *models.Event) bool {
	return (subject.Type == models.SubjectKid) == event.KidsEvent
}

func (s *attendanceService) loadSubjectAndEvent(ctx context.Context, eventID, memberID, subjectID string) (*models.Subject, *models.Event, error) {
	subject, err := s.subjects.ResolveSubject(ctx, memberID, subjectID)
	if err != nil {
		return nil, nil, err
	}
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, nil, mapRepoError(err, "get event")
	}
	if event.IsCancelled() {
		return nil, nil, ErrEventCancelled
	}
	if !subjectMatchesEvent(subject, event) {
		return nil, nil, ErrSubjectEventMismatch
	}
	return subject, event, nil
}

func (s *attendanceService) existingRecord(ctx context.Context, exec repositories.SQLExecutor, eventID, subjectID string) (*models.AttendanceRecord, error) {
	rec, err := s.attendance.Get(ctx, exec, eventID, subjectID)
	if errors.Is(err, repositories.ErrAttendanceNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *attendanceService) SetAttending(ctx context.Context, eventID, memberID, subjectID string, attending bool) (*models.AttendanceRecord, error) {
	subject, event, err := s.loadSubjectAndEvent(ctx, eventID, memberID, subjectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if rules.RSVPClosed(event, now) {
		return nil, ErrAttendanceCutoff
	}
	if event.Type != models.EventMembershipFee && event.HasStarted(now) {
		return nil, ErrEventStarted
	}

	existing, err := s.existingRecord(ctx, nil, event.ID, subject.ID)
	if err != nil {
		return nil, mapRepoError(err, "get attendance")
	}
	attended := existing != nil && existing.Attended
	rec := attendanceSnapshot(event, subject, existing, attending, attended, now)
	if err := s.attendance.Upsert(ctx, nil, rec); err != nil {
		return nil, mapRepoError(err, "save attendance")
	}

	if existing == nil || existing.PaymentStatus != rec.PaymentStatus {
		from := models.PaymentNone
		if existing != nil {
			from = existing.PaymentStatus
		}
		s.recorder.RecordTransition("payment", string(from), string(rec.PaymentStatus))
	}
	s.logger.InfoContext(ctx, "attendance_set",
		slog.String("event_id", event.ID),
		slog.String("subject_id", subject.ID),
		slog.String("response", rec.Response()),
		slog.Float64("fee_due", rec.FeeDue),
		slog.String("actor_id", memberID))
	return rec, nil
}

// MarkPaid is the self-service payment step. It only ever moves a record to PENDING;
// the allowed source states are enforced again in the UPDATE guard.
func (s *attendanceService) MarkPaid(ctx context.Context, eventID, memberID, subjectID string) (*models.AttendanceRecord, error) {
	subject, event, err := s.loadSubjectAndEvent(ctx, eventID, memberID, subjectID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var rec *models.AttendanceRecord
	var from models.PaymentStatus
	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		if rec, err = s.existingRecord(ctx, exec, event.ID, subject.ID); err != nil {
			return err
		}
		if rec == nil {
			// Membership fees are paid without a prior RSVP.
			if event.Type != models.EventMembershipFee {
				return ErrNotAttending
			}
			rec = attendanceSnapshot(event, subject, nil, true, false, now)
			if err := s.attendance.Upsert(ctx, exec, rec); err != nil {
				return err
			}
		}
		if !rec.Attending {
			return ErrNotAttending
		}
		if rec.FeeDue <= 0 {
			return ErrNothingToPay
		}
		if subject.Type == models.SubjectKid && !rec.Attended {
			return ErrNotAttendedYet
		}
		if !rules.CanSelfMarkPaid(rec.PaymentStatus) {
			return withDetail(ErrPaymentNotAllowed, "payment is already %s", strings.ToLower(string(rec.PaymentStatus)))
		}
		from = rec.PaymentStatus
		return s.attendance.MarkPending(ctx, exec, event.ID, subject.ID, memberID, now, rules.SelfMarkableStatuses())
	})
	if err != nil {
		return nil, mapRepoError(err, "mark payment")
	}

	rec.PaymentStatus = models.PaymentPending
	rec.PaymentMarkedAt = timePtr(now)
	rec.PaymentMarkedBy = strPtr(memberID)

	s.recorder.RecordTransition("payment", string(from), string(models.PaymentPending))
	s.logger.InfoContext(ctx, "payment_marked",
		slog.String("event_id", event.ID),
		slog.String("subject_id", subject.ID),
		slog.String("from", string(from)),
		slog.String("actor_id", memberID))
	return rec, nil
}

func parseAdminPaymentStatus(raw string) (models.PaymentStatus, error) {
	switch status := models.PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case models.PaymentPaid, models.PaymentPending, models.PaymentUnpaid, models.PaymentRejected:
		return status, nil
	}
	return models.PaymentNone, ErrInvalidPaymentStatus
}

// AdminConfirmPayments applies one status to a batch of records in one transaction.
// Incomplete entries and entries without a record are skipped and not counted.
func (s *attendanceService) AdminConfirmPayments(ctx context.Context, adminID string, in PaymentConfirmationInput) (int, error) {
	status, err := parseAdminPaymentStatus(in.Status)
	if err != nil {
		return 0, err
	}

	now := s.now()
	applied := 0
	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		applied = 0
		for _, p := range in.Payments {
			if p.EventID == "" || p.SubjectID == "" || !p.SubjectType.Valid() {
				continue
			}
			err := s.attendance.ResolvePayment(ctx, exec, p.EventID, p.SubjectID, status, adminID, now)
			if errors.Is(err, repositories.ErrAttendanceNotFound) {
				s.logger.WarnContext(ctx, "payment confirmation skipped: no attendance record",
					slog.String("event_id", p.EventID),
					slog.String("subject_id", p.SubjectID))
				continue
			}
			if err != nil {
				return err
			}
			applied++
		}
		if applied == 0 {
			return ErrNoValidPayments
		}
		return nil
	})
	if err != nil {
		return 0, mapRepoError(err, "confirm payments")
	}

	for i := 0; i < applied; i++ {
		s.recorder.RecordTransition("payment", "admin", string(status))
	}
	s.logger.InfoContext(ctx, "payments_confirmed",
		slog.String("status", string(status)),
		slog.Int("applied", applied),
		slog.Int("submitted", len(in.Payments)),
		slog.String("actor_id", adminID))
	return applied, nil
}

// AdminAddPastAttendees backfills attendance after the fact. It bypasses the RSVP
// cutoff and marks every subject as attending and attended.
func (s *attendanceService) AdminAddPastAttendees(ctx context.Context, adminID, eventID string, subjectIDs []string) ([]models.AttendanceRecord, error) {
	ids := uniqueNonEmpty(subjectIDs)
	if len(ids) == 0 {
		return nil, withDetail(ErrValidationFailed, "at least one subject id is required")
	}

	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "get event")
	}
	if event.IsCancelled() {
		return nil, ErrEventCancelled
	}

	subjects := make([]*models.Subject, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(subjectLookupConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			subject, err := s.subjects.LookupSubject(gCtx, id)
			if err != nil {
				if errors.Is(err, ErrSubjectNotFound) {
					return withDetail(ErrSubjectNotFound, "subject %s", id)
				}
				return err
			}
			if !subjectMatchesEvent(subject, event) {
				return withDetail(ErrSubjectEventMismatch, "subject %s", id)
			}
			subjects[i] = subject
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mapRepoError(err, "resolve subjects")
	}

	now := s.now()
	records := make([]models.AttendanceRecord, 0, len(subjects))
	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		records = records[:0]
		for _, subject := range subjects {
			existing, err := s.existingRecord(ctx, exec, event.ID, subject.ID)
			if err != nil {
				return err
			}
			rec := attendanceSnapshot(event, subject, existing, true, true, now)
			if err := s.attendance.Upsert(ctx, exec, rec); err != nil {
				return err
			}
			records = append(records, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, "add past attendees")
	}

	s.logger.InfoContext(ctx, "past_attendees_added",
		slog.String("event_id", event.ID),
		slog.Int("count", len(records)),
		slog.String("actor_id", adminID))
	return records, nil
}

func (s *attendanceService) AdminSetAttended(ctx context.Context, adminID, eventID, subjectID string, attended bool) (*models.AttendanceRecord, error) {
	if err := s.attendance.SetAttended(ctx, nil, eventID, subjectID, attended); err != nil {
		return nil, mapRepoError(err, "set attended")
	}
	rec, err := s.attendance.Get(ctx, nil, eventID, subjectID)
	if err != nil {
		return nil, mapRepoError(err, "get attendance")
	}
	s.logger.InfoContext(ctx, "attendance_confirmed",
		slog.String("event_id", eventID),
		slog.String("subject_id", subjectID),
		slog.Bool("attended", attended),
		slog.String("actor_id", adminID))
	return rec, nil
}

func (s *attendanceService) ListForEvent(ctx context.Context, eventID string) ([]models.AttendanceRecord, error) {
	if _, err := s.events.GetByID(ctx, nil, eventID); err != nil {
		return nil, mapRepoError(err, "get event")
	}
	records, err := s.attendance.ListByEvent(ctx, nil, eventID)
	if err != nil {
		return nil, mapRepoError(err, "list attendance")
	}
	return records, nil
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
