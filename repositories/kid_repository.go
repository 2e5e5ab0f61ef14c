package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-system/models"
	"github.com/lib/pq"
)

var (
	ErrKidNotFound       = errors.New("kid not found")
	ErrKidParentInvalid  = errors.New("kid parent does not exist")
	ErrKidParentConflict = errors.New("parent already linked to kid")
)

type KidRepository interface {
	Create(ctx context.Context, exec SQLExecutor, kid *models.Kid) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Kid, error)
	GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.Kid, error)
	AddParent(ctx context.Context, exec SQLExecutor, kidID, email string, link models.LinkedParent) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.KidStatus) error
	ListByIDs(ctx context.Context, ids []string) ([]models.Kid, error)
}

type postgresKidRepository struct {
	db *sql.DB
}

func NewPostgresKidRepository(db *sql.DB) KidRepository {
	return &postgresKidRepository{db: db}
}

func (r *postgresKidRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const kidColumns = `id, parent_id, name, birth_year, birth_month, parent_emails, linked_parents, status, created_by, created_at, updated_at`

func scanKid(row rowScanner) (*models.Kid, error) {
	var k models.Kid
	err := row.Scan(
		&k.ID, &k.ParentID, &k.Name, &k.BirthYear, &k.BirthMonth,
		pq.Array(&k.ParentEmails), &k.LinkedParents, &k.Status, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *postgresKidRepository) Create(ctx context.Context, exec SQLExecutor, k *models.Kid) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO kids (id, parent_id, name, birth_year, birth_month, parent_emails, linked_parents, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		k.ID, k.ParentID, k.Name, k.BirthYear, k.BirthMonth,
		pq.Array(nonNil(k.ParentEmails)), k.LinkedParents, k.Status, k.CreatedBy,
	).Scan(&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrKidParentInvalid
		}
		return wrapDBError("create kid", err)
	}
	return nil
}

func (r *postgresKidRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Kid, error) {
	return r.getOne(ctx, exec, `SELECT `+kidColumns+` FROM kids WHERE id = $1`, id)
}

func (r *postgresKidRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.Kid, error) {
	return r.getOne(ctx, exec, `SELECT `+kidColumns+` FROM kids WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresKidRepository) getOne(ctx context.Context, exec SQLExecutor, query, id string) (*models.Kid, error) {
	k, err := scanKid(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKidNotFound
		}
		return nil, wrapDBError("failed to scan kid", err)
	}
	return k, nil
}

// AddParent appends the e-mail and the audit link only when the e-mail is not
// already on the kid; ErrKidParentConflict otherwise.
func (r *postgresKidRepository) AddParent(ctx context.Context, exec SQLExecutor, kidID, email string, link models.LinkedParent) error {
	executor := r.getExecutor(exec)
	entry, err := models.LinkedParents{link}.Value()
	if err != nil {
		return fmt.Errorf("encode linked parent: %w", err)
	}

	query := `
		UPDATE kids
		SET parent_emails = array_append(parent_emails, $1),
			linked_parents = linked_parents || $2::jsonb,
			updated_at = NOW()
		WHERE id = $3 AND NOT (lower($1) = ANY(SELECT lower(e) FROM unnest(parent_emails) AS e))`

	result, err := executor.ExecContext(ctx, query, email, entry, kidID)
	if err != nil {
		return wrapDBError("add kid parent", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.GetByID(ctx, exec, kidID); getErr != nil {
			return getErr
		}
		return ErrKidParentConflict
	}
	return nil
}

func (r *postgresKidRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.KidStatus) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE kids SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return wrapDBError("update kid status", err)
	}
	return checkAffectedRows(result, ErrKidNotFound)
}

func (r *postgresKidRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Kid, error) {
	kids := make([]models.Kid, 0, len(ids))
	if len(ids) == 0 {
		return kids, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+kidColumns+` FROM kids WHERE id = ANY($1) ORDER BY name ASC`, pq.Array(ids))
	if err != nil {
		return nil, wrapDBError("list kids", err)
	}
	defer rows.Close()

	for rows.Next() {
		k, err := scanKid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kid row: %w", err)
		}
		kids = append(kids, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kid rows: %w", err)
	}
	return kids, nil
}
