package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-system/models"
	"github.com/lib/pq"
)

var ErrEventNotFound = errors.New("event not found")

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	Update(ctx context.Context, event *models.Event) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.EventStatus, actorID string) error
	Delete(ctx context.Context, exec SQLExecutor, id string) error
}

type postgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) EventRepository {
	return &postgresEventRepository{db: db}
}

func (r *postgresEventRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const eventColumns = `
	id, title, description, type, target_groups, fee, starts_at, location, status,
	kids_event, attendance_cutoff_hours, created_by, updated_by, created_at, updated_at`

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Type, pq.Array(&e.TargetGroups), &e.Fee, &e.StartsAt,
		&e.Location, &e.Status, &e.KidsEvent, &e.AttendanceCutoffHours,
		&e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *postgresEventRepository) Create(ctx context.Context, e *models.Event) error {
	executor := r.getExecutor(nil)
	query := `
		INSERT INTO events (
			id, title, description, type, target_groups, fee, starts_at, location, status,
			kids_event, attendance_cutoff_hours, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		e.ID, e.Title, e.Description, e.Type, pq.Array(nonNil(e.TargetGroups)), e.Fee, e.StartsAt,
		e.Location, e.Status, e.KidsEvent, e.AttendanceCutoffHours, e.CreatedBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return wrapDBError("create event", err)
	}
	return nil
}

func (r *postgresEventRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Event, error) {
	e, err := scanEvent(r.getExecutor(exec).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, wrapDBError("failed to scan event", err)
	}
	return e, nil
}

func (r *postgresEventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	executor := r.getExecutor(nil)
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.From != nil {
		query += fmt.Sprintf(" AND starts_at >= $%d", argID)
		args = append(args, *filter.From)
		argID++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND starts_at < $%d", argID)
		args = append(args, *filter.To)
		argID++
	}
	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argID)
		args = append(args, *filter.Type)
		argID++
	}
	if filter.KidsEvent != nil {
		query += fmt.Sprintf(" AND kids_event = $%d", argID)
		args = append(args, *filter.KidsEvent)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY starts_at ASC, created_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
	}

	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list events", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", scanErr)
		}
		events = append(events, *e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

func (r *postgresEventRepository) Update(ctx context.Context, e *models.Event) error {
	executor := r.getExecutor(nil)
	query := `
		UPDATE events SET
			title = $1,
			description = $2,
			type = $3,
			target_groups = $4,
			fee = $5,
			starts_at = $6,
			location = $7,
			kids_event = $8,
			attendance_cutoff_hours = $9,
			updated_by = $10,
			updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`

	err := executor.QueryRowContext(ctx, query,
		e.Title, e.Description, e.Type, pq.Array(nonNil(e.TargetGroups)), e.Fee, e.StartsAt,
		e.Location, e.KidsEvent, e.AttendanceCutoffHours, e.UpdatedBy, e.ID,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEventNotFound
		}
		return wrapDBError("update event", err)
	}
	return nil
}

func (r *postgresEventRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.EventStatus, actorID string) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`UPDATE events SET status = $1, updated_by = $2, updated_at = NOW() WHERE id = $3`, status, actorID, id)
	if err != nil {
		return wrapDBError("update event status", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}

// Delete removes the event. Attendance and participation rows go with it through
// ON DELETE CASCADE.
func (r *postgresEventRepository) Delete(ctx context.Context, exec SQLExecutor, id string) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return wrapDBError("delete event", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}
