package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuth indicates invalid credentials, malformed credentials or an unauthorized response.
	ErrAuth = errors.New("authorization rejected")
	// ErrNetwork indicates the request could not be sent or no response was received.
	ErrNetwork = errors.New("network failure")
	// ErrServer indicates a non-success status that came with a response.
	ErrServer = errors.New("server error")
	// ErrNotFound indicates the target resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrTimeout indicates the category's request deadline elapsed.
	ErrTimeout = errors.New("request timed out")
)

// Category groups requests that share a timeout budget.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategorySigning Category = "signing"
	CategoryPolling Category = "polling"
	CategorySearch  Category = "search"
	CategoryUpload  Category = "upload"
	CategoryAction  Category = "action"
	CategoryMedia   Category = "media"
)

// Error describes a failed API call. errors.Is matches both Kind and the underlying cause.
type Error struct {
	Op         string
	Category   Category
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusCode extracts the HTTP status from err, or 0 when no response was received.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err is a transport-level failure (no usable response).
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}
