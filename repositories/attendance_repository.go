package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/lib/pq"
)

var (
	ErrAttendanceNotFound     = errors.New("attendance record not found")
	ErrAttendanceStateChanged = errors.New("attendance payment status changed concurrently")
	ErrAttendanceEventInvalid = errors.New("attendance references unknown event")
)

type AttendanceRepository interface {
	Get(ctx context.Context, exec SQLExecutor, eventID, subjectID string) (*models.AttendanceRecord, error)
	Upsert(ctx context.Context, exec SQLExecutor, rec *models.AttendanceRecord) error
	// MarkPending moves the payment to PENDING only while it is still one of allowed.
	MarkPending(ctx context.Context, exec SQLExecutor, eventID, subjectID, markedBy string, at time.Time, allowed []models.PaymentStatus) error
	ResolvePayment(ctx context.Context, exec SQLExecutor, eventID, subjectID string, status models.PaymentStatus, actorID string, at time.Time) error
	SetAttended(ctx context.Context, exec SQLExecutor, eventID, subjectID string, attended bool) error
	SetRecordStatusForSubject(ctx context.Context, exec SQLExecutor, subjectID string, status models.RecordStatus) (int64, error)
	ListByEvent(ctx context.Context, exec SQLExecutor, eventID string) ([]models.AttendanceRecord, error)
}

type postgresAttendanceRepository struct {
	db *sql.DB
}

func NewPostgresAttendanceRepository(db *sql.DB) AttendanceRepository {
	return &postgresAttendanceRepository{db: db}
}

func (r *postgresAttendanceRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const attendanceColumns = `
	event_id, subject_id, subject_type, name, email, category, groups, attending, attended, fee_due,
	payment_status, payment_marked_at, payment_marked_by, confirmed_at, confirmed_by,
	rejected_at, rejected_by, record_status, responded_at, updated_at`

func scanAttendance(row rowScanner) (*models.AttendanceRecord, error) {
	var a models.AttendanceRecord
	err := row.Scan(
		&a.EventID, &a.SubjectID, &a.SubjectType, &a.Name, &a.Email, &a.Category, pq.Array(&a.Groups),
		&a.Attending, &a.Attended, &a.FeeDue,
		&a.PaymentStatus, &a.PaymentMarkedAt, &a.PaymentMarkedBy, &a.ConfirmedAt, &a.ConfirmedBy,
		&a.RejectedAt, &a.RejectedBy, &a.RecordStatus, &a.RespondedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *postgresAttendanceRepository) Get(ctx context.Context, exec SQLExecutor, eventID, subjectID string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE event_id = $1 AND subject_id = $2`
	a, err := scanAttendance(r.getExecutor(exec).QueryRowContext(ctx, query, eventID, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttendanceNotFound
		}
		return nil, wrapDBError("failed to scan attendance", err)
	}
	return a, nil
}

// Upsert writes the RSVP snapshot. Payment audit fields (marked/confirmed/rejected)
// are owned by MarkPending and ResolvePayment and are never touched here.
func (r *postgresAttendanceRepository) Upsert(ctx context.Context, exec SQLExecutor, a *models.AttendanceRecord) error {
	executor := r.getExecutor(exec)
	if a.RecordStatus == "" {
		a.RecordStatus = models.RecordActive
	}
	query := `
		INSERT INTO attendance (
			event_id, subject_id, subject_type, name, email, category, groups,
			attending, attended, fee_due, payment_status, record_status, responded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id, subject_id) DO UPDATE SET
			subject_type = EXCLUDED.subject_type,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			category = EXCLUDED.category,
			groups = EXCLUDED.groups,
			attending = EXCLUDED.attending,
			attended = EXCLUDED.attended,
			fee_due = EXCLUDED.fee_due,
			payment_status = EXCLUDED.payment_status,
			record_status = EXCLUDED.record_status,
			responded_at = EXCLUDED.responded_at,
			updated_at = NOW()
		RETURNING updated_at`

	err := executor.QueryRowContext(ctx, query,
		a.EventID, a.SubjectID, a.SubjectType, a.Name, a.Email, a.Category, pq.Array(nonNil(a.Groups)),
		a.Attending, a.Attended, a.FeeDue, a.PaymentStatus, a.RecordStatus, a.RespondedAt,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrAttendanceEventInvalid
		}
		return wrapDBError("upsert attendance", err)
	}
	return nil
}

func (r *postgresAttendanceRepository) MarkPending(ctx context.Context, exec SQLExecutor, eventID, subjectID, markedBy string, at time.Time, allowed []models.PaymentStatus) error {
	executor := r.getExecutor(exec)
	allowedValues := make([]string, len(allowed))
	for i, s := range allowed {
		allowedValues[i] = string(s)
	}

	query := `
		UPDATE attendance
		SET payment_status = $1, payment_marked_at = $2, payment_marked_by = $3, updated_at = NOW()
		WHERE event_id = $4 AND subject_id = $5 AND payment_status = ANY($6)`

	result, err := executor.ExecContext(ctx, query,
		models.PaymentPending, at, markedBy, eventID, subjectID, pq.Array(allowedValues))
	if err != nil {
		return wrapDBError("mark payment pending", err)
	}
	return checkAffectedRows(result, ErrAttendanceStateChanged)
}

// ResolvePayment applies an admin payment decision. PAID stamps confirmed_*,
// REJECTED stamps rejected_*; PENDING and UNPAID only change the label.
func (r *postgresAttendanceRepository) ResolvePayment(ctx context.Context, exec SQLExecutor, eventID, subjectID string, status models.PaymentStatus, actorID string, at time.Time) error {
	executor := r.getExecutor(exec)

	var query string
	args := []interface{}{status, eventID, subjectID}
	switch status {
	case models.PaymentPaid:
		query = `
			UPDATE attendance
			SET payment_status = $1, confirmed_at = $4, confirmed_by = $5, updated_at = NOW()
			WHERE event_id = $2 AND subject_id = $3`
		args = append(args, at, actorID)
	case models.PaymentRejected:
		query = `
			UPDATE attendance
			SET payment_status = $1, rejected_at = $4, rejected_by = $5, updated_at = NOW()
			WHERE event_id = $2 AND subject_id = $3`
		args = append(args, at, actorID)
	case models.PaymentPending, models.PaymentUnpaid:
		query = `
			UPDATE attendance
			SET payment_status = $1, updated_at = NOW()
			WHERE event_id = $2 AND subject_id = $3`
	default:
		return fmt.Errorf("resolve payment: unsupported status %q", status)
	}

	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBError("resolve payment", err)
	}
	return checkAffectedRows(result, ErrAttendanceNotFound)
}

func (r *postgresAttendanceRepository) SetAttended(ctx context.Context, exec SQLExecutor, eventID, subjectID string, attended bool) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE attendance SET attended = $1, updated_at = NOW() WHERE event_id = $2 AND subject_id = $3`,
		attended, eventID, subjectID)
	if err != nil {
		return wrapDBError("set attended", err)
	}
	return checkAffectedRows(result, ErrAttendanceNotFound)
}

// SetRecordStatusForSubject soft-(de)activates every record of a subject and returns
// how many rows changed. Zero is not an error.
func (r *postgresAttendanceRepository) SetRecordStatusForSubject(ctx context.Context, exec SQLExecutor, subjectID string, status models.RecordStatus) (int64, error) {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE attendance SET record_status = $1, updated_at = NOW() WHERE subject_id = $2 AND record_status <> $1`,
		status, subjectID)
	if err != nil {
		return 0, wrapDBError("set attendance record status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}

func (r *postgresAttendanceRepository) ListByEvent(ctx context.Context, exec SQLExecutor, eventID string) ([]models.AttendanceRecord, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE event_id = $1 ORDER BY name ASC, subject_id ASC`, eventID)
	if err != nil {
		return nil, wrapDBError("list attendance", err)
	}
	defer rows.Close()

	records := make([]models.AttendanceRecord, 0)
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		records = append(records, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}
