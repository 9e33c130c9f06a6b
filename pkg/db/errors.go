package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation on
// Postgres or SQLite. When constraintName is provided the error text must also
// mention it (Postgres reports the index name, SQLite the table.column pair).
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	unique := errors.Is(err, gorm.ErrDuplicatedKey)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		unique = true
	}
	msg := err.Error()
	if strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed") {
		unique = true
	}
	if !unique {
		return false
	}
	if constraintName == "" {
		return true
	}
	if pgErr != nil && pgErr.ConstraintName == constraintName {
		return true
	}
	return strings.Contains(msg, constraintName)
}

// IsNotFound reports whether err is GORM's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
