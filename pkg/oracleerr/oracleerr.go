// Package oracleerr defines the small set of sentinel error kinds the
// oracle surfaces across its components.
package oracleerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on it (e.g. the
// HTTP layer mapping it to a status code).
type Kind string

const (
	// InvalidParam marks a malformed request or illegal parameter (400).
	InvalidParam Kind = "invalid_param"
	// NotFound marks an unknown event_id (400, 404 acceptable).
	NotFound Kind = "not_found"
	// AlreadySigned marks a signing race: the event already has signatures.
	AlreadySigned Kind = "already_signed"
	// Unsigned marks an attestation request before signing has occurred.
	Unsigned Kind = "unsigned"
	// UnsupportedDescriptor marks an attempt to sign an enum descriptor.
	UnsupportedDescriptor Kind = "unsupported_descriptor"
	// Storage marks a persistence failure.
	Storage Kind = "storage"
	// StatsSource marks an upstream sampling failure.
	StatsSource Kind = "stats_source"
	// Crypto marks a signing internal failure.
	Crypto Kind = "crypto"
)

// Error is a Kind-tagged, wrapped error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
