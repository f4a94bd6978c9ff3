// Package apperr defines the error taxonomy shared by the content pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the content repository confirmed there is no
// record for the requested identifier. It is terminal for that identifier
// until content is (re)published.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput reports a request the server refuses to act on.
var ErrInvalidInput = errors.New("invalid input")

// MissingFieldError reports a malformed raw record: a required field is
// absent or does not have the canonical shape.
type MissingFieldError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *MissingFieldError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing"
	}
	if e.RecordID == "" {
		return fmt.Sprintf("record field %q: %s", e.Field, reason)
	}
	return fmt.Sprintf("record %s field %q: %s", e.RecordID, e.Field, reason)
}

// FetchError reports a transport or repository failure. It is retryable and
// never implies anything about the existence of the requested record.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Missing builds a MissingFieldError for an absent field.
func Missing(recordID, field string) error {
	return &MissingFieldError{RecordID: recordID, Field: field}
}

// Malformed builds a MissingFieldError for a field with an unexpected shape.
func Malformed(recordID, field, reason string) error {
	return &MissingFieldError{RecordID: recordID, Field: field, Reason: reason}
}

// IsRetryable reports whether err is a fetch failure that a later attempt may
// resolve. Not-found and malformed content are not retryable.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsMissingField reports whether err carries a MissingFieldError.
func IsMissingField(err error) bool {
	var me *MissingFieldError
	return errors.As(err, &me)
}
