package store

import "errors"

// Sentinel errors returned by store operations. The service layer maps these
// to coded domain errors; nothing below the service should know about HTTP.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	ErrPostNotFound = errors.New("post not found")
	ErrPostExists   = errors.New("post already exists")

	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)
