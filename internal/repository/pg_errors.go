package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperr "drivehub/internal/errors"

	"github.com/lib/pq"
)

// ErrStaleVersion means the row changed since it was read.
var ErrStaleVersion = apperr.New(apperr.KindConflict, "reservation was modified concurrently")

// classify maps database/sql and pq errors onto the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return apperr.Transient(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23P01", pqErr.Code == "23505":
			// exclusion_violation, unique_violation
			return &apperr.Error{Kind: apperr.KindConflict, Op: op, Err: err}
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "57P01":
			// serialization_failure, deadlock_detected, admin_shutdown
			return apperr.Transient(op, err)
		case strings.HasPrefix(string(pqErr.Code), "08"):
			return apperr.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// driver-level network failures surface as plain errors
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "bad connection") {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
