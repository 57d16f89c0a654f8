package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAborted marks a send-message operation that was superseded or canceled.
	// It is a deliberate outcome and is never shown to the user as a failure.
	ErrAborted = errors.New("operation aborted")
	ErrClosed  = errors.New("orchestrator closed")
)

type AbortedError struct {
	ChatID      string
	OperationID string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("operation %s on chat %s aborted", e.OperationID, e.ChatID)
}

func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

// UnknownModelError is returned by SetModel for models without an adapter family.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}
