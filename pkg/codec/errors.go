package codec

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrValidation      = errors.New("invalid export data")
	ErrVersionMismatch = errors.New("互換性のないバージョンです")
)

// ValidationError reports an import payload that does not have the shape of
// an export file. Field is the JSON path of the first offending value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type VersionMismatchError struct {
	Version string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s: %q", ErrVersionMismatch, e.Version)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }
