package auth

import (
	"errors"
	"fmt"
)

// Kind classifies verification failures so the HTTP boundary can surface a
// machine-readable reason without string matching.
type Kind string

const (
	KindExpiredToken        Kind = "ExpiredToken"
	KindInvalidSignature    Kind = "InvalidSignature"
	KindUnknownSigningKey   Kind = "UnknownSigningKey"
	KindMissingSubjectClaim Kind = "MissingSubjectClaim"
	KindMalformedToken      Kind = "MalformedToken"
)

// Error is a verification failure carrying its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure classification from an error chain.
// Unclassified errors report KindMalformedToken.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindMalformedToken
}
