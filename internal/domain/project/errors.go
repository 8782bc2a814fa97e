package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("not_found")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("store unavailable")
)

// retryableSQLStates are postgres error codes worth retrying as a whole call.
var retryableSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exceptions
		if (len(pgErr.Code) == 5 && pgErr.Code[:2] == "08") || retryableSQLStates[pgErr.Code] {
			return fmt.Errorf("%w: %s", ErrUnavailable, pgErr.Message)
		}
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: duplicate %s", ErrValidation, pgErr.ConstraintName)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
