package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeQueryCanceled       = "57014"
	codeAdminShutdown       = "57P01"

	// class 08: connection exceptions
	classConnection = "08"
)

type pgKind struct {
	kind error
	msg  string
}

var pgKinds = map[string]pgKind{
	codeLockNotAvailable:    {shared.ErrTransient, "timed out waiting for user lock"},
	codeSerialization:       {shared.ErrTransient, "concurrent update"},
	codeDeadlock:            {shared.ErrTransient, "concurrent update"},
	codeQueryCanceled:       {shared.ErrTransient, "statement canceled"},
	codeAdminShutdown:       {shared.ErrTransient, "server shutting down"},
	codeForeignKeyViolation: {shared.ErrNotFound, "referenced row missing"},
}

// mapError translates driver failures into the engine's error kinds. Errors
// with no matching kind are wrapped unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return shared.WrapError("ledger", op, shared.ErrTransient, "deadline exceeded", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if k, ok := pgKinds[pgErr.Code]; ok {
			return shared.WrapError("ledger", op, k.kind, k.msg, err)
		}
		switch {
		case pgErr.Code == codeUniqueViolation:
			return shared.WrapError("ledger", op, shared.ErrConflict, "unique constraint "+pgErr.ConstraintName, err)
		case strings.HasPrefix(pgErr.Code, classConnection):
			return shared.WrapError("ledger", op, shared.ErrTransient, "connection exception", err)
		}
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return shared.WrapError("ledger", op, shared.ErrTransient, "connection failure", err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// IsUniqueViolation reports a unique constraint violation, limited to the
// named constraints when any are given.
func IsUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, c := range constraints {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}

// IsNoRows reports pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
