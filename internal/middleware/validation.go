package middleware

import (
	"errors"
	"unicode"
)

const maxIDLength = 64

// ValidateID checks a path identifier (user or post id). Both Mongo ObjectId
// hex strings and UUIDs pass.
func ValidateID(kind, id string) error {
	if id == "" {
		return errors.New(kind + " ID cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New(kind + " ID exceeds maximum length")
	}
	for _, r := range id {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return errors.New("invalid " + kind + " ID format")
		}
	}
	return nil
}
