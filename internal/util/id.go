package util

import "github.com/google/uuid"

// NewID returns a new random entity id.
func NewID() string {
	return uuid.NewString()
}
