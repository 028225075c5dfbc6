package store

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrSessionNotFound   = errors.New("session not found")
	ErrChallengeNotFound = errors.New("login challenge not found")
)
