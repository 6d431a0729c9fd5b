package packagemanager

import (
	"strconv"
	"strings"
)

// Kind categorizes package manager failures.
type Kind string

const (
	// KindNotFound means the specifier could not be located, even after the
	// single install attempt the manager is allowed per request.
	KindNotFound Kind = "not_found"
	// KindResolveFailed is any other resolver failure; it is never retried.
	KindResolveFailed Kind = "resolve_failed"
	// KindInstallFailed means the installer itself failed.
	KindInstallFailed Kind = "install_failed"
	// KindLoadFailed means the artifact could not be read or executed.
	KindLoadFailed Kind = "load_failed"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrResolveFailed = &Error{Kind: KindResolveFailed}
	ErrInstallFailed = &Error{Kind: KindInstallFailed}
	ErrLoadFailed    = &Error{Kind: KindLoadFailed}
)

// Error is the structured error returned by every Manager operation.
type Error struct {
	Kind      Kind
	Specifier string
	From      string
	Path      string
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("packagemanager: ")
	b.WriteString(string(e.Kind))
	if e.Specifier != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(e.Specifier))
	}
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.From != "" {
		b.WriteString(" from ")
		b.WriteString(e.From)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}
