package providers

import (
	"errors"
	"fmt"
)

var (
	ErrProvider          = errors.New("provider error")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrUnknownProvider   = errors.New("no adapter for provider")
)

// ProviderError reports a non-success HTTP status from an upstream API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ErrProvider.Error()
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s: %s returned status %d: %s", ErrProvider, e.Provider, e.Status, body)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// MalformedResponseError reports a successful response missing expected fields.
type MalformedResponseError struct {
	Provider string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	if e == nil {
		return ErrMalformedResponse.Error()
	}
	return fmt.Sprintf("%s from %s: %s", ErrMalformedResponse, e.Provider, e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
