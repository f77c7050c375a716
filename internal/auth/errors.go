package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed signature, structure or
	// expiry validation. Callers never see partial claims alongside it.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrAuthFailed covers both unknown-user and bad-password outcomes so the
	// API cannot be used to enumerate usernames.
	ErrAuthFailed = errors.New("auth: authentication failed")
)
