package chathub

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected locally, before any store round trip.
	ErrValidation = errors.New("invalid request")
	// ErrTransient marks store failures the caller may retry.
	ErrTransient = errors.New("temporarily unavailable")
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
