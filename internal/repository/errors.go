package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrVersionConflict は楽観ロックのバージョン不一致を表す。
	ErrVersionConflict = errors.New("repository: version conflict")

	// ErrUniqueViolation は一意制約違反を表す。
	ErrUniqueViolation = errors.New("repository: unique violation")
)

const pgUniqueViolation = "23505"

// isUniqueViolation はlib/pqまたはpgxのエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
