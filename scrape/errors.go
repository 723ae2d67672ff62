package scrape

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for a single retrieval attempt.
var (
	ErrNoStrategies     = errors.New("no retrieval strategies configured")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrEmptyPayload     = errors.New("empty document payload")
	ErrContentTooLarge  = errors.New("document exceeds size limit")
	ErrEmptyDocumentURL = errors.New("document URL is required")
)

// AttemptError records why one strategy of the chain failed.
type AttemptError struct {
	Strategy string
	Err      error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

// RetrievalError is returned when every strategy of the chain failed.
type RetrievalError struct {
	Attempts []AttemptError
}

func (e *RetrievalError) Error() string {
	if len(e.Attempts) == 0 {
		return "failed to retrieve document"
	}
	parts := make([]string, len(e.Attempts))
	for i, attempt := range e.Attempts {
		parts[i] = attempt.Error()
	}
	return fmt.Sprintf("failed to retrieve document after %d attempts: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap returns the last underlying failure.
func (e *RetrievalError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
