package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx, so a repository method can take
// part in a caller's transaction or run on its own.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ErrSchemaMissing is returned when a table or column the query needs does not exist.
var ErrSchemaMissing = errors.New("database schema is missing or out of date; apply db/schema.sql (db.Migrate) and restart")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqUndefinedTable      = "42P01"
	pqUndefinedColumn     = "42703"
)

func checkAffectedRows(result sql.Result, notFoundError error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundError
	}
	return nil
}

// asPQError returns the driver error code and constraint, if err came from postgres.
func asPQError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// wrapDBError turns schema errors into ErrSchemaMissing and adds context to the rest.
func wrapDBError(op string, err error) error {
	if pqErr, ok := asPQError(err); ok {
		switch string(pqErr.Code) {
		case pqUndefinedTable, pqUndefinedColumn:
			return fmt.Errorf("%s: %w (%s)", op, ErrSchemaMissing, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Transactor runs a function inside a single database transaction: every write made
// through the executor commits together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(exec SQLExecutor) error) error
}

type postgresTransactor struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresTransactor(db *sql.DB, logger *slog.Logger) Transactor {
	return &postgresTransactor{db: db, logger: logger}
}

func (t *postgresTransactor) WithinTx(ctx context.Context, fn func(exec SQLExecutor) error) (txErr error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				t.logger.Error("transaction rollback failed", slog.Any("error", rbErr), slog.Any("cause", txErr))
				txErr = fmt.Errorf("transaction processing error: %w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = wrapDBError("failed to commit transaction", cErr)
		}
	}()

	txErr = fn(tx)
	return txErr
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
