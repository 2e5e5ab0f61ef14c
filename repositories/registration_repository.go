package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-system/models"
)

var (
	ErrRegistrationNotFound = errors.New("registration request not found")
	ErrRegistrationConflict = errors.New("registration request already exists")
)

type RegistrationRepository interface {
	Create(ctx context.Context, exec SQLExecutor, req *models.RegistrationRequest) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.RegistrationRequest, error)
	GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.RegistrationRequest, error)
	Update(ctx context.Context, exec SQLExecutor, req *models.RegistrationRequest) error
	Delete(ctx context.Context, exec SQLExecutor, id string) error
	ListByStatus(ctx context.Context, statuses ...models.RegistrationStatus) ([]models.RegistrationRequest, error)
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

func (r *postgresRegistrationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const registrationColumns = `
	id, email, name, status, requested_group, member_type, phone, birth_year, birth_month, gender,
	picture_url, payment_manager_id, parent_request_id, resubmission_count,
	rejection_reason, rejection_notes, rejected_at, rejected_by, can_resubmit,
	last_rejection_reason, last_rejection_at, rejection_history, created_at, updated_at`

func scanRegistration(row rowScanner) (*models.RegistrationRequest, error) {
	var req models.RegistrationRequest
	err := row.Scan(
		&req.ID, &req.Email, &req.Name, &req.Status, &req.Group, &req.MemberType, &req.Phone,
		&req.BirthYear, &req.BirthMonth, &req.Gender,
		&req.PictureURL, &req.PaymentManagerID, &req.ParentRequestID, &req.ResubmissionCount,
		&req.RejectionReason, &req.RejectionNotes, &req.RejectedAt, &req.RejectedBy, &req.CanResubmit,
		&req.LastRejectionReason, &req.LastRejectionAt, &req.RejectionHistory, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, exec SQLExecutor, req *models.RegistrationRequest) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO registration_requests (
			id, email, name, status, requested_group, member_type, phone, birth_year, birth_month,
			gender, picture_url, payment_manager_id, parent_request_id, rejection_history
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		req.ID, req.Email, req.Name, req.Status, req.Group, req.MemberType, req.Phone,
		req.BirthYear, req.BirthMonth, req.Gender, req.PictureURL, req.PaymentManagerID,
		req.ParentRequestID, req.RejectionHistory,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			return ErrRegistrationConflict
		}
		return wrapDBError("create registration request", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.RegistrationRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+registrationColumns+` FROM registration_requests WHERE id = $1`, id)
}

// GetForUpdate locks the request row for the rest of the transaction so two admins
// cannot resolve the same request concurrently.
func (r *postgresRegistrationRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.RegistrationRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+registrationColumns+` FROM registration_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresRegistrationRepository) getOne(ctx context.Context, exec SQLExecutor, query, id string) (*models.RegistrationRequest, error) {
	req, err := scanRegistration(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, wrapDBError("failed to scan registration request", err)
	}
	return req, nil
}

// Update writes the full mutable state of the request.
func (r *postgresRegistrationRepository) Update(ctx context.Context, exec SQLExecutor, req *models.RegistrationRequest) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE registration_requests SET
			status = $1,
			requested_group = $2,
			member_type = $3,
			phone = $4,
			birth_year = $5,
			birth_month = $6,
			gender = $7,
			payment_manager_id = $8,
			parent_request_id = $9,
			resubmission_count = $10,
			rejection_reason = $11,
			rejection_notes = $12,
			rejected_at = $13,
			rejected_by = $14,
			can_resubmit = $15,
			last_rejection_reason = $16,
			last_rejection_at = $17,
			rejection_history = $18,
			updated_at = NOW()
		WHERE id = $19
		RETURNING updated_at`

	err := executor.QueryRowContext(ctx, query,
		req.Status, req.Group, req.MemberType, req.Phone, req.BirthYear, req.BirthMonth, req.Gender,
		req.PaymentManagerID, req.ParentRequestID, req.ResubmissionCount,
		req.RejectionReason, req.RejectionNotes, req.RejectedAt, req.RejectedBy, req.CanResubmit,
		req.LastRejectionReason, req.LastRejectionAt, req.RejectionHistory,
		req.ID,
	).Scan(&req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRegistrationNotFound
		}
		return wrapDBError("update registration request", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) Delete(ctx context.Context, exec SQLExecutor, id string) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM registration_requests WHERE id = $1`, id)
	if err != nil {
		return wrapDBError("delete registration request", err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) ListByStatus(ctx context.Context, statuses ...models.RegistrationStatus) ([]models.RegistrationRequest, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_requests`
	args := []interface{}{}
	if len(statuses) > 0 {
		query += ` WHERE status IN (`
		for i, s := range statuses {
			if i > 0 {
				query += ", "
			}
			query += fmt.Sprintf("$%d", i+1)
			args = append(args, s)
		}
		query += `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list registration requests", err)
	}
	defer rows.Close()

	requests := make([]models.RegistrationRequest, 0)
	for rows.Next() {
		req, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return requests, nil
}
