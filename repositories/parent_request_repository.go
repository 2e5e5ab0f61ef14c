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
	ErrParentRequestNotFound      = errors.New("parent request not found")
	ErrParentRequestParentInvalid = errors.New("parent request references unknown parent")
)

// ParentRequestRepository определяет интерфейс для работы с запросами на управление платежами.
type ParentRequestRepository interface {
	// Create сохраняет новый запрос. ID задаётся вызывающим кодом.
	Create(ctx context.Context, exec SQLExecutor, req *models.ParentRequest) error

	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ParentRequest, error)

	// GetForUpdate блокирует строку до конца транзакции.
	GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.ParentRequest, error)

	// Resolve переводит запрос из pending в approved/rejected.
	// Возвращает ErrParentRequestNotFound, если запрос не найден или уже решён.
	Resolve(ctx context.Context, exec SQLExecutor, id string, status models.ParentRequestStatus, resolvedBy string, reason *string, at time.Time) error

	// ListByParent возвращает запросы, адресованные родителю, новые первыми.
	ListByParent(ctx context.Context, parentID string, status *models.ParentRequestStatus) ([]models.ParentRequest, error)
}

type postgresParentRequestRepository struct {
	db *sql.DB
}

func NewPostgresParentRequestRepository(db *sql.DB) ParentRequestRepository {
	return &postgresParentRequestRepository{db: db}
}

func (r *postgresParentRequestRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const parentRequestColumns = `id, parent_id, youth_id, youth_name, youth_email, youth_groups, status, resolved_by, resolved_at, reason, created_at`

func scanParentRequest(row rowScanner) (*models.ParentRequest, error) {
	var pr models.ParentRequest
	err := row.Scan(
		&pr.ID, &pr.ParentID, &pr.YouthID, &pr.YouthName, &pr.YouthEmail, pq.Array(&pr.YouthGroups),
		&pr.Status, &pr.ResolvedBy, &pr.ResolvedAt, &pr.Reason, &pr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (r *postgresParentRequestRepository) Create(ctx context.Context, exec SQLExecutor, pr *models.ParentRequest) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO parent_requests (id, parent_id, youth_id, youth_name, youth_email, youth_groups, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := executor.QueryRowContext(ctx, query,
		pr.ID, pr.ParentID, pr.YouthID, pr.YouthName, pr.YouthEmail, pq.Array(nonNil(pr.YouthGroups)), pr.Status,
	).Scan(&pr.CreatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrParentRequestParentInvalid
		}
		return wrapDBError("create parent request", err)
	}
	return nil
}

func (r *postgresParentRequestRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ParentRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+parentRequestColumns+` FROM parent_requests WHERE id = $1`, id)
}

func (r *postgresParentRequestRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.ParentRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+parentRequestColumns+` FROM parent_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresParentRequestRepository) getOne(ctx context.Context, exec SQLExecutor, query, id string) (*models.ParentRequest, error) {
	pr, err := scanParentRequest(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParentRequestNotFound
		}
		return nil, wrapDBError("failed to scan parent request", err)
	}
	return pr, nil
}

func (r *postgresParentRequestRepository) Resolve(ctx context.Context, exec SQLExecutor, id string, status models.ParentRequestStatus, resolvedBy string, reason *string, at time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE parent_requests
		SET status = $1, resolved_by = $2, resolved_at = $3, reason = $4
		WHERE id = $5 AND status = 'pending'`

	result, err := executor.ExecContext(ctx, query, status, resolvedBy, at, reason, id)
	if err != nil {
		return wrapDBError("resolve parent request", err)
	}
	return checkAffectedRows(result, ErrParentRequestNotFound)
}

func (r *postgresParentRequestRepository) ListByParent(ctx context.Context, parentID string, status *models.ParentRequestStatus) ([]models.ParentRequest, error) {
	query := `SELECT ` + parentRequestColumns + ` FROM parent_requests WHERE parent_id = $1`
	args := []interface{}{parentID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list parent requests", err)
	}
	defer rows.Close()

	requests := make([]models.ParentRequest, 0)
	for rows.Next() {
		pr, err := scanParentRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parent request row: %w", err)
		}
		requests = append(requests, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parent request rows: %w", err)
	}
	return requests, nil
}
