package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDocument is returned when a scan document does not parse
	// or does not conform to the expected schema.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrIO is returned when a document can't be read.
	ErrIO = errors.New("io failure")
	// ErrClassificationUnavailable is returned when the cipher suite catalog
	// can't be fetched or its payload is unusable.
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// ErrUnknownCipherID is returned when a cipher id has no catalog entry.
	ErrUnknownCipherID = errors.New("unknown cipher id")
	// ErrExternalTool is returned when the cipher enumerator exits non-zero
	// or does not produce its output file.
	ErrExternalTool = errors.New("external tool failure")
)

// DocumentError ties a parse or read failure to the offending input.
type DocumentError struct {
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// UnknownCipherError reports a cipher id found in a scan, which is missing
// in the catalog. It signals a version skew between the scanner and the catalog.
type UnknownCipherError struct {
	ID     string
	Target TLSTarget
}

func (e *UnknownCipherError) Error() string {
	if e.Target.IsZero() {
		return fmt.Sprintf("%s: %s", ErrUnknownCipherID, e.ID)
	}
	return fmt.Sprintf("%s: %s (target %s)", ErrUnknownCipherID, e.ID, e.Target)
}

func (e *UnknownCipherError) Unwrap() error {
	return ErrUnknownCipherID
}
