package api

import (
	"fmt"
	"strings"
)

// NetworkError reports a transport failure: the request never produced an
// HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a response the client cannot accept: a non-success
// HTTP status, a {success:false} payload, or an undecodable body.
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: server error (status %d)", e.Op, e.StatusCode)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ServerError) Unwrap() error { return e.Err }

// ValidationError reports input rejected before any request is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeleteFailedError reports a delete the server did not confirm.
type DeleteFailedError struct {
	ID  int64
	Err error
}

func (e *DeleteFailedError) Error() string {
	return fmt.Sprintf("delete message %d failed: %v", e.ID, e.Err)
}

func (e *DeleteFailedError) Unwrap() error { return e.Err }

// ValidateBody rejects message bodies that are empty or whitespace only.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	return nil
}
