package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the
	// configured number of dimensions. It signals a configuration defect.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmbeddingFailure is returned when the embedder fails. Nothing is stored.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrPersistenceFailure is returned when a snapshot could not be written.
	// The in-memory state is still updated.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// DimensionError describes a vector of the wrong length.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// Is reports ErrDimensionMismatch so callers can use errors.Is.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDimensions returns a *DimensionError if vec does not have want entries.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return &DimensionError{Got: len(vec), Want: want}
	}
	return nil
}
