package coupling

import (
	"errors"
	"fmt"
)

// Domain errors for convergence acceleration.
var (
	// ErrConfiguration indicates invalid hyperparameters at construction.
	ErrConfiguration = errors.New("coupling: invalid configuration")

	// ErrInvalidStateVectorSize indicates a raw iterate whose length differs
	// from the session's state size.
	ErrInvalidStateVectorSize = errors.New("coupling: state vector size mismatch")

	// ErrNonFiniteState indicates a raw iterate containing NaN or Inf.
	ErrNonFiniteState = errors.New("coupling: state vector contains NaN or Inf")
)

// ConfigError reports the offending parameter of an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coupling: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigError is shared with the other engine packages so that every
// invalid hyperparameter satisfies errors.Is(err, ErrConfiguration).
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SizeError wraps ErrInvalidStateVectorSize with the expected and actual lengths.
type SizeError struct {
	Want int
	Got  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("coupling: state vector size mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *SizeError) Unwrap() error {
	return ErrInvalidStateVectorSize
}
