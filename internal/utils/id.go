package utils

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for users and live connections.
func NewID() string {
	return uuid.NewString()
}
