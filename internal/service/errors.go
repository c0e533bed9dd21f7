package service

import "errors"

var (
	// ErrInvalidTarget is returned when a reminder's target type and
	// recipient do not agree with the creator's partner link.
	ErrInvalidTarget = errors.New("invalid reminder target")
	// ErrForbidden is returned when a user touches an entity they do not own.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput covers missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)
