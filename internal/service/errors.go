// Package service implements direct messaging and like notifications on top
// of the store and the real-time dispatcher.
package service

import (
	"errors"
	"fmt"

	"github.com/chirp-social/realtime/internal/store"
)

// Error classes surfaced to the REST layer.
var (
	// ErrValidation marks input rejected before any persistence.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced user, post or conversation that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStore marks a persistence failure.
	ErrStore = errors.New("store failure")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// classify maps a store error onto ErrNotFound or ErrStore.
func classify(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
