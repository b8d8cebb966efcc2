package processor

import (
	"errors"
	"fmt"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Compute-layer failures. All three mean the host and the plugin disagree
// about the wire contract; none of them is recoverable inside a call.
var (
	ErrUnsupportedVersion = errors.New("unsupported payload version")
	ErrInvariantViolation = errors.New("record invariant violated")
	ErrMalformedInput     = errors.New("malformed fixed-width input")
)

// UnsupportedVersionError reports a retired or unknown payload version.
type UnsupportedVersionError struct {
	Kind    geyser.EventKind
	Version geyser.Version
	// Retired is true when the version is known but below the policy floor.
	Retired bool
}

func (e *UnsupportedVersionError) Error() string {
	if e.Retired {
		return fmt.Sprintf("%s payload version %s is retired", e.Kind, e.Version)
	}
	return fmt.Sprintf("%s payload version %s is not supported", e.Kind, e.Version)
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// InvariantViolationError reports a failed cross-field consistency check.
type InvariantViolationError struct {
	Kind   geyser.EventKind
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%s invariant violated: %s", e.Kind, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// MalformedInputError reports a buffer that does not decode to its fixed width.
type MalformedInputError struct {
	Kind  geyser.EventKind
	Field string
	Err   error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s field %s malformed: %v", e.Kind, e.Field, e.Err)
}

func (e *MalformedInputError) Unwrap() []error { return []error{ErrMalformedInput, e.Err} }

// IsFatal reports whether err is a compute-layer failure that must fail the
// host's call rather than be absorbed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrMalformedInput)
}
