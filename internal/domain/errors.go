package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrStaleStatus means a compare-and-set transition lost against a
	// concurrent writer or targeted a terminal document.
	ErrStaleStatus = errors.New("document status changed concurrently")
)

type ValidationError struct {
	Field   string
	Message string
	// TooLarge distinguishes payload size violations from other bad input.
	TooLarge bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

type ConflictError struct {
	OwnerID     string
	DisplayName string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a document named %q already exists", e.DisplayName)
}

type ExtractionFailure struct {
	DocumentID string
	Err        error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for document %s: %v", e.DocumentID, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

type EnqueueFailure struct {
	DocumentID string
	Attempts   int
	Err        error
}

func (e *EnqueueFailure) Error() string {
	return fmt.Sprintf("enqueue failed for document %s after %d attempts: %v", e.DocumentID, e.Attempts, e.Err)
}

func (e *EnqueueFailure) Unwrap() error { return e.Err }

type SummarizationFailure struct {
	DocumentID string
	Attempt    int
	Err        error
}

func (e *SummarizationFailure) Error() string {
	return fmt.Sprintf("summarization failed for document %s on attempt %d: %v", e.DocumentID, e.Attempt, e.Err)
}

func (e *SummarizationFailure) Unwrap() error { return e.Err }
