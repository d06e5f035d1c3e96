package extract

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNoPluginForURL ErrorKind = "NO_PLUGIN_FOR_URL"
	KindFetchFailed    ErrorKind = "FETCH_FAILED"
	KindParseFailed    ErrorKind = "PARSE_FAILED"
	KindIncompleteData ErrorKind = "INCOMPLETE_DATA"
)

// Error carries the extraction failure taxonomy. Callers switch on Kind
// instead of matching error strings.
type Error struct {
	Kind   ErrorKind
	Source string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s (%s): %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("extract %s (%s)", e.Kind, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, source, url string, err error) *Error {
	return &Error{Kind: kind, Source: source, URL: url, Err: err}
}

// KindOf returns the extraction error kind, or "" for non-extraction errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
