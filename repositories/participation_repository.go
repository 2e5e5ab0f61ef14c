package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/club-system/models"
)

var (
	ErrParticipationNotFound  = errors.New("participation request not found")
	ErrParticipationDuplicate = errors.New("participation request already exists")
)

type ParticipationRepository interface {
	// CreateIfAbsent inserts the request unless one with the same id exists, in which
	// case ErrParticipationDuplicate is returned and nothing is written.
	CreateIfAbsent(ctx context.Context, exec SQLExecutor, req *models.ParticipationRequest) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ParticipationRequest, error)
	GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.ParticipationRequest, error)
	Resolve(ctx context.Context, exec SQLExecutor, id string, status models.ParticipationStatus, resolvedBy string, at time.Time) error
	ListByEvent(ctx context.Context, exec SQLExecutor, eventID string) ([]models.ParticipationRequest, error)
}

type postgresParticipationRepository struct {
	db *sql.DB
}

func NewPostgresParticipationRepository(db *sql.DB) ParticipationRepository {
	return &postgresParticipationRepository{db: db}
}

func (r *postgresParticipationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const participationColumns = `id, event_id, subject_id, subject_type, subject_name, requester_id, status, resolved_by, resolved_at, created_at`

func scanParticipation(row rowScanner) (*models.ParticipationRequest, error) {
	var p models.ParticipationRequest
	err := row.Scan(
		&p.ID, &p.EventID, &p.SubjectID, &p.SubjectType, &p.SubjectName, &p.RequesterID,
		&p.Status, &p.ResolvedBy, &p.ResolvedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresParticipationRepository) CreateIfAbsent(ctx context.Context, exec SQLExecutor, p *models.ParticipationRequest) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO participation_requests (id, event_id, subject_id, subject_type, subject_name, requester_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`

	err := executor.QueryRowContext(ctx, query,
		p.ID, p.EventID, p.SubjectID, p.SubjectType, p.SubjectName, p.RequesterID, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrParticipationDuplicate
		}
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrEventNotFound
		}
		return wrapDBError("create participation request", err)
	}
	return nil
}

func (r *postgresParticipationRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ParticipationRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+participationColumns+` FROM participation_requests WHERE id = $1`, id)
}

func (r *postgresParticipationRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.ParticipationRequest, error) {
	return r.getOne(ctx, exec, `SELECT `+participationColumns+` FROM participation_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresParticipationRepository) getOne(ctx context.Context, exec SQLExecutor, query, id string) (*models.ParticipationRequest, error) {
	p, err := scanParticipation(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipationNotFound
		}
		return nil, wrapDBError("failed to scan participation request", err)
	}
	return p, nil
}

func (r *postgresParticipationRepository) Resolve(ctx context.Context, exec SQLExecutor, id string, status models.ParticipationStatus, resolvedBy string, at time.Time) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE participation_requests SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4 AND status = 'pending'`,
		status, resolvedBy, at, id)
	if err != nil {
		return wrapDBError("resolve participation request", err)
	}
	return checkAffectedRows(result, ErrParticipationNotFound)
}

func (r *postgresParticipationRepository) ListByEvent(ctx context.Context, exec SQLExecutor, eventID string) ([]models.ParticipationRequest, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx,
		`SELECT `+participationColumns+` FROM participation_requests WHERE event_id = $1 ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, wrapDBError("list participation requests", err)
	}
	defer rows.Close()

	requests := make([]models.ParticipationRequest, 0)
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation row: %w", err)
		}
		requests = append(requests, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participation rows: %w", err)
	}
	return requests, nil
}
