package dashboard

import "errors"

var (
	ErrForbidden        = errors.New("forbidden")
	ErrDependencyLocked = errors.New("dependency_locked")
	ErrInvalidStatus    = errors.New("invalid status")
)
