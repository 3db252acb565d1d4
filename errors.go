//go:build !ios && !android && (amd64 || arm64)

package polyhandle

import (
	"errors"

	"github.com/obinnaokechukwu/polyhandle/internal/guest"
	"github.com/obinnaokechukwu/polyhandle/internal/handles"
	"github.com/obinnaokechukwu/polyhandle/internal/interop"
)

// HandleError is an error from a registry operation.
// It records the operation and the handle involved.
type HandleError = handles.Error

// Common errors
var (
	// ErrInvalidHandle indicates a handle that was never issued or was already released.
	ErrInvalidHandle = handles.ErrInvalidHandle

	// ErrNilObject indicates an attempt to acquire a handle for nil.
	ErrNilObject = handles.ErrNilObject

	// ErrExhausted indicates no handle value is available within the registry's limits.
	ErrExhausted = handles.ErrExhausted

	// ErrClosed indicates the registry has been closed.
	ErrClosed = handles.ErrClosed

	// ErrLeaked indicates live handles remained when a registry was closed.
	ErrLeaked = handles.ErrLeaked

	// ErrTypeMismatch indicates a resolved object has an unexpected type.
	ErrTypeMismatch = handles.ErrTypeMismatch

	// ErrNoMember indicates a managed object has no such member.
	ErrNoMember = interop.ErrNoMember

	// ErrGuestClosed indicates the WebAssembly guest has been closed.
	ErrGuestClosed = guest.ErrGuestClosed

	// ErrCallbackPanic indicates a callback panicked while native code was calling it.
	ErrCallbackPanic = guest.ErrCallbackPanic
)

// IsInvalidHandle returns true if err reports an invalid handle.
func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}
