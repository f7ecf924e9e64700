package id

import "github.com/google/uuid"

// New returns a random identifier suitable for task directories and keys.
func New() string {
	return uuid.NewString()
}
