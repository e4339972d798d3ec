package chat

import (
	"context"
	"errors"
	"fmt"
)

// ModelUnavailableError is returned after every retry against the gateway
// has failed for a model.
type ModelUnavailableError struct {
	Model    string
	Attempts int
	Last     error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("failed to get response from %s after %d retries", e.Model, e.Attempts)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Last }

// IsCancellation reports whether err stems from the round's cancellation
// token rather than from a gateway failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
