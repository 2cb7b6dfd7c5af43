package wellness

import (
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// UserID represents a validated user or partner identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidInput, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// IDProvider issues identifiers for append-only rows.
type IDProvider interface {
	NewID() (string, error)
}
