package domain

import "errors"

// Input validation errors
var (
	ErrInvalidUserID       = errors.New("user id is required")
	ErrInvalidConnectionID = errors.New("connection id is required")
)
