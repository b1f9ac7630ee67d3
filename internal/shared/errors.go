package shared

import "errors"

// Cross-package sentinels. Repositories translate their backend's not-found
// into ErrNotFound so handlers never inspect driver errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials covers every login failure uniformly: unknown
	// email, wrong password, deactivated account. Callers must not be able to
	// distinguish which one occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
