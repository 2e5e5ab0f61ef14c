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
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberEmailConflict = errors.New("member email conflict")
	ErrMemberIDConflict    = errors.New("member already exists")
)

type MemberRepository interface {
	Create(ctx context.Context, exec SQLExecutor, member *models.Member) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Member, error)
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.Member, error)
	GetByEmail(ctx context.Context, exec SQLExecutor, email string) (*models.Member, error)
	UpdateProfile(ctx context.Context, exec SQLExecutor, member *models.Member) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.MemberStatus, actorID string, at time.Time) error
	UpdateRole(ctx context.Context, exec SQLExecutor, id string, role models.MemberRole) error
	AppendHistory(ctx context.Context, exec SQLExecutor, entry *models.StatusHistoryEntry) error
	ListHistory(ctx context.Context, memberID string) ([]models.StatusHistoryEntry, error)
	CountActiveAdmins(ctx context.Context, exec SQLExecutor, excludeID string) (int, error)
	AddKid(ctx context.Context, exec SQLExecutor, memberID, kidID string) error
	AddLinkedYouth(ctx context.Context, exec SQLExecutor, memberID, youthID string) error
	AddLinkedParent(ctx context.Context, exec SQLExecutor, memberID, parentID string) error
	SetActiveProfile(ctx context.Context, id, profileID string) error
	SetAvatarKey(ctx context.Context, id string, key *string) error
	List(ctx context.Context, filter models.MemberFilter) ([]models.Member, int, error)
}

type postgresMemberRepository struct {
	db *sql.DB
}

func NewPostgresMemberRepository(db *sql.DB) MemberRepository {
	return &postgresMemberRepository{db: db}
}

func (r *postgresMemberRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const memberColumns = `
	id, email, name, role, status, gender, pays_via_parent, groups, legacy_group, member_type,
	phone, birth_year, birth_month, kid_ids, linked_youth_ids, linked_parents, payment_manager_id,
	active_profile_id, last_login_profile, profile_completed, picture_url, avatar_key,
	approved_by, approved_at, status_updated_at, status_updated_by, created_at, updated_at`

func scanMember(row rowScanner) (*models.Member, error) {
	var m models.Member
	err := row.Scan(
		&m.ID, &m.Email, &m.Name, &m.Role, &m.Status, &m.Gender, &m.PaysViaParent,
		pq.Array(&m.Groups), &m.LegacyGroup, &m.MemberType,
		&m.Phone, &m.BirthYear, &m.BirthMonth,
		pq.Array(&m.KidIDs), pq.Array(&m.LinkedYouthIDs), pq.Array(&m.LinkedParents), &m.PaymentManagerID,
		&m.ActiveProfileID, &m.LastLoginProfile, &m.ProfileCompleted, &m.PictureURL, &m.AvatarKey,
		&m.ApprovedBy, &m.ApprovedAt, &m.StatusUpdatedAt, &m.StatusUpdatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresMemberRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Member) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO members (
			id, email, name, role, status, gender, pays_via_parent, groups, legacy_group, member_type,
			phone, birth_year, birth_month, kid_ids, linked_youth_ids, linked_parents, payment_manager_id,
			active_profile_id, profile_completed, picture_url, approved_by, approved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at`

	err := executor.QueryRowContext(ctx, query,
		m.ID, m.Email, m.Name, m.Role, m.Status, m.Gender, m.PaysViaParent,
		pq.Array(nonNil(m.Groups)), m.LegacyGroup, m.MemberType,
		m.Phone, m.BirthYear, m.BirthMonth,
		pq.Array(nonNil(m.KidIDs)), pq.Array(nonNil(m.LinkedYouthIDs)), pq.Array(nonNil(m.LinkedParents)), m.PaymentManagerID,
		m.ActiveProfileID, m.ProfileCompleted, m.PictureURL, m.ApprovedBy, m.ApprovedAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	return r.handleMemberError("create member", err)
}

func (r *postgresMemberRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *postgresMemberRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresMemberRepository) GetByEmail(ctx context.Context, exec SQLExecutor, email string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE lower(email) = lower($1)`
	return r.getOne(ctx, exec, query, email)
}

func (r *postgresMemberRepository) getOne(ctx context.Context, exec SQLExecutor, query string, arg interface{}) (*models.Member, error) {
	m, err := scanMember(r.getExecutor(exec).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, wrapDBError("failed to scan member", err)
	}
	return m, nil
}

func (r *postgresMemberRepository) UpdateProfile(ctx context.Context, exec SQLExecutor, m *models.Member) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE members SET
			name = $1,
			gender = $2,
			pays_via_parent = $3,
			groups = $4,
			member_type = $5,
			phone = $6,
			birth_year = $7,
			birth_month = $8,
			payment_manager_id = $9,
			profile_completed = $10,
			updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`

	err := executor.QueryRowContext(ctx, query,
		m.Name, m.Gender, m.PaysViaParent, pq.Array(nonNil(m.Groups)), m.MemberType,
		m.Phone, m.BirthYear, m.BirthMonth, m.PaymentManagerID, m.ProfileCompleted,
		m.ID,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMemberNotFound
	}
	return r.handleMemberError("update member profile", err)
}

func (r *postgresMemberRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id string, status models.MemberStatus, actorID string, at time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE members
		SET status = $1, status_updated_at = $2, status_updated_by = $3, updated_at = NOW()
		WHERE id = $4`

	result, err := executor.ExecContext(ctx, query, status, at, actorID, id)
	if err != nil {
		return wrapDBError("update member status", err)
	}
	return checkAffectedRows(result, ErrMemberNotFound)
}

func (r *postgresMemberRepository) UpdateRole(ctx context.Context, exec SQLExecutor, id string, role models.MemberRole) error {
	executor := r.getExecutor(exec)
	query := `UPDATE members SET role = $1, updated_at = NOW() WHERE id = $2`

	result, err := executor.ExecContext(ctx, query, role, id)
	if err != nil {
		return wrapDBError("update member role", err)
	}
	return checkAffectedRows(result, ErrMemberNotFound)
}

func (r *postgresMemberRepository) AppendHistory(ctx context.Context, exec SQLExecutor, e *models.StatusHistoryEntry) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO member_status_history (member_id, action, from_status, to_status, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := executor.QueryRowContext(ctx, query,
		e.MemberID, e.Action, e.FromStatus, e.ToStatus, e.ActorID, e.Reason, e.CreatedAt,
	).Scan(&e.ID)
	return r.handleMemberError("append member history", err)
}

func (r *postgresMemberRepository) ListHistory(ctx context.Context, memberID string) ([]models.StatusHistoryEntry, error) {
	query := `
		SELECT id, member_id, action, from_status, to_status, actor_id, reason, created_at
		FROM member_status_history
		WHERE member_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, memberID)
	if err != nil {
		return nil, wrapDBError("list member history", err)
	}
	defer rows.Close()

	history := make([]models.StatusHistoryEntry, 0)
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Action, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return history, nil
}

// CountActiveAdmins counts active admins other than excludeID. Rows are locked so two
// concurrent demotions cannot both see the other admin as still active.
func (r *postgresMemberRepository) CountActiveAdmins(ctx context.Context, exec SQLExecutor, excludeID string) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id FROM members
		WHERE role = 'admin' AND status = 'active' AND id <> $1
		FOR UPDATE`

	rows, err := executor.QueryContext(ctx, query, excludeID)
	if err != nil {
		return 0, wrapDBError("count active admins", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating admin rows: %w", err)
	}
	return count, nil
}

func (r *postgresMemberRepository) AddKid(ctx context.Context, exec SQLExecutor, memberID, kidID string) error {
	return r.appendUnique(ctx, exec, "kid_ids", memberID, kidID)
}

func (r *postgresMemberRepository) AddLinkedYouth(ctx context.Context, exec SQLExecutor, memberID, youthID string) error {
	return r.appendUnique(ctx, exec, "linked_youth_ids", memberID, youthID)
}

func (r *postgresMemberRepository) AddLinkedParent(ctx context.Context, exec SQLExecutor, memberID, parentID string) error {
	return r.appendUnique(ctx, exec, "linked_parents", memberID, parentID)
}

// appendUnique adds value to the array column unless already present. column is
// always one of the constants above, never user input.
func (r *postgresMemberRepository) appendUnique(ctx context.Context, exec SQLExecutor, column, memberID, value string) error {
	executor := r.getExecutor(exec)
	query := fmt.Sprintf(`
		UPDATE members
		SET %[1]s = CASE WHEN $1 = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $1) END,
			updated_at = NOW()
		WHERE id = $2`, column)

	result, err := executor.ExecContext(ctx, query, value, memberID)
	if err != nil {
		return wrapDBError("append to member "+column, err)
	}
	return checkAffectedRows(result, ErrMemberNotFound)
}

func (r *postgresMemberRepository) SetActiveProfile(ctx context.Context, id, profileID string) error {
	query := `
		UPDATE members
		SET active_profile_id = $1, last_login_profile = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, profileID, id)
	if err != nil {
		return wrapDBError("set active profile", err)
	}
	return checkAffectedRows(result, ErrMemberNotFound)
}

func (r *postgresMemberRepository) SetAvatarKey(ctx context.Context, id string, key *string) error {
	query := `UPDATE members SET avatar_key = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, key, id)
	if err != nil {
		return wrapDBError("set avatar key", err)
	}
	return checkAffectedRows(result, ErrMemberNotFound)
}

func (r *postgresMemberRepository) List(ctx context.Context, filter models.MemberFilter) ([]models.Member, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argID := 1

	if filter.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argID, argID)
		args = append(args, "%"+filter.Search+"%")
		argID++
	}
	if filter.Role != nil {
		where += fmt.Sprintf(" AND role = $%d", argID)
		args = append(args, *filter.Role)
		argID++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBError("count members", err)
	}

	query := `SELECT ` + memberColumns + ` FROM members` + where + ` ORDER BY name ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
		if filter.Page > 1 {
			query += fmt.Sprintf(" OFFSET $%d", argID)
			args = append(args, (filter.Page-1)*filter.Limit)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapDBError("list members", err)
	}
	defer rows.Close()

	members := make([]models.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating member rows: %w", err)
	}
	return members, total, nil
}

func (r *postgresMemberRepository) handleMemberError(op string, err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
		switch pqErr.Constraint {
		case "members_email_key":
			return ErrMemberEmailConflict
		case "members_pkey":
			return ErrMemberIDConflict
		}
	}
	return wrapDBError(op, err)
}

// nonNil keeps NOT NULL array columns from receiving a SQL NULL.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
