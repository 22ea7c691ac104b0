package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrForbidden is returned when an authenticated subject acts on a
	// resource it does not own.
	ErrForbidden = errors.New("action not allowed")

	// ErrInvalidOperation is returned for requests that are well-formed but
	// make no sense, such as following oneself.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConflictRisk is returned when a two-sided relationship write failed
	// halfway and could not be rolled back. The reconciliation sweep repairs
	// the leftover asymmetry.
	ErrConflictRisk = errors.New("relationship left inconsistent")

	// ErrInvalidCredentials is returned by SignIn for an unknown email or a
	// wrong password. The two cases are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError collects field-level messages. Only the first message for
// a field is kept.
type ValidationError struct {
	Fields map[string]string

	// Conflict marks errors caused by existing data, such as a taken email,
	// rather than by the input's shape.
	Conflict bool
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already failed.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// Err returns e when it holds at least one field error, or nil.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) error {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// UploadError reports a media problem. A nil Err means the file itself was
// rejected; otherwise the media host failed.
type UploadError struct {
	Field   string
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// HostFailure reports whether the media host, not the file, caused the error.
func (e *UploadError) HostFailure() bool { return e.Err != nil }
