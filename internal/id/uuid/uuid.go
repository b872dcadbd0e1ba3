// Package uuid generates and validates job ids.
package uuid

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ErrInvalidID rejects a job id that is neither a UUID nor a short slug.
var ErrInvalidID = errors.New("job id must be a uuid or a slug of letters, digits, '.', '_' or '-' (max 64)")

// Generator creates time-ordered UUID v7 job ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Validate accepts operator-supplied ids.
func Validate(id string) error {
	if _, err := uuid.Parse(id); err == nil {
		return nil
	}
	if slugPattern.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%q: %w", id, ErrInvalidID)
}
