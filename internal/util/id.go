package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string. Row ids and request ids share it.
func NewID() string {
	return uuid.NewString()
}
