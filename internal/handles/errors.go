package handles

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// Registry errors
var (
	// ErrInvalidHandle indicates a handle that was never issued or has
	// already been released.
	ErrInvalidHandle = errors.New("polyhandle: invalid handle")

	// ErrNilObject indicates an attempt to register a nil object.
	ErrNilObject = errors.New("polyhandle: nil object reference")

	// ErrExhausted indicates the registry cannot issue another handle
	// within its configured limit or handle width.
	ErrExhausted = errors.New("polyhandle: handle space exhausted")

	// ErrClosed indicates the registry has been closed.
	ErrClosed = errors.New("polyhandle: registry is closed")

	// ErrLeaked indicates handles were still live when the registry was closed.
	ErrLeaked = errors.New("polyhandle: live handles leaked")

	// ErrTypeMismatch indicates a resolved object has an unexpected type.
	ErrTypeMismatch = errors.New("polyhandle: object type mismatch")
)

// Error is a registry error.
// It records the operation and handle involved.
type Error struct {
	Op     string // Operation that failed
	Handle Handle // Handle involved, 0 for acquire and close
	Err    error  // Underlying sentinel
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Handle == 0 {
		return fmt.Sprintf("%v (%s)", e.Err, e.Op)
	}
	return fmt.Sprintf("%v (%s handle %d)", e.Err, e.Op, uintptr(e.Handle))
}

// Unwrap returns the underlying sentinel.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalid returns true if err reports an invalid handle.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

func leakedError(n int) error {
	return fmt.Errorf("%w: %d still live", ErrLeaked, n)
}

func typeMismatch[T any](v any) error {
	return fmt.Errorf("%w: have %T, want %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
}

var discardLogger = slog.New(slog.DiscardHandler)
