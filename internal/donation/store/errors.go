package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"caredrop/pkg/platform/sentinel"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	activeClaimIndex = "claims_one_active_per_recipient"
)

// pgErrorCode extracts the SQLSTATE and constraint name from driver errors.
// Both the pgx and lib/pq drivers can sit behind database/sql.
func pgErrorCode(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// translate maps constraint violations onto sentinel errors.
func translate(op string, err error) error {
	code, constraint, ok := pgErrorCode(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case code == uniqueViolation && constraint == activeClaimIndex:
		return fmt.Errorf("%s: recipient already has an active claim: %w", op, sentinel.ErrConflict)
	case code == uniqueViolation:
		return fmt.Errorf("%s: %s: %w", op, constraint, sentinel.ErrAlreadyUsed)
	case code == foreignKeyViolation:
		return fmt.Errorf("%s: %s: %w", op, constraint, sentinel.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
