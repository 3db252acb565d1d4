//go:build !ios && !android && (amd64 || arm64)

// Package polyhandle passes references to Go objects across native
// boundaries as opaque integral handles.
//
// A handle is acquired for an object, handed to foreign code (a C callback
// argument, a WebAssembly i64), resolved back to the object when foreign
// code calls into Go, and released when foreign code is done with it.
// Resolving or releasing a handle that is not live is an error, never a
// silent no-op.
//
// For most use cases, use HandleForManaged, ManagedFromHandle and
// ReleaseHandle on the process-wide registry. Registries can also be created
// per session with NewRegistry and passed explicitly.
package polyhandle

import (
	"github.com/obinnaokechukwu/polyhandle/internal/handles"
	"github.com/obinnaokechukwu/polyhandle/internal/interop"
	"github.com/obinnaokechukwu/polyhandle/internal/shim"
)

// Init loads the optional native shim. It is called automatically by the
// native callback path, but can be called explicitly to check for errors.
// It is safe to call multiple times.
func Init() error {
	return shim.Load()
}

// IsShimLoaded returns true if the native shim library is available.
func IsShimLoaded() bool {
	return shim.IsLoaded()
}

// ShimStatus returns a human-readable status of the native shim.
func ShimStatus() string {
	return shim.Status()
}

// Re-export registry types for convenience
type (
	// Handle is an opaque identifier for a registered Go object.
	Handle = handles.Handle

	// Registry maps handles to Go objects.
	Registry = handles.Registry

	// RegistryOption configures a Registry.
	RegistryOption = handles.Option

	// Reuse selects which released handle value is issued next.
	Reuse = handles.Reuse

	// Stats is a snapshot of registry counters.
	Stats = handles.Stats

	// Members is implemented by objects that resolve their own members.
	Members = interop.Members
)

// Reuse policies
const (
	ReuseLIFO = handles.ReuseLIFO
	ReuseFIFO = handles.ReuseFIFO
)

// Registry options
var (
	WithReuse  = handles.WithReuse
	WithLimit  = handles.WithLimit
	WithBits   = handles.WithBits
	WithLogger = handles.WithLogger
)

// NewRegistry creates a registry independent of the process-wide one.
func NewRegistry(opts ...RegistryOption) *Registry {
	return handles.New(opts...)
}

// DefaultRegistry returns the process-wide registry, creating it on first use.
func DefaultRegistry() *Registry {
	return handles.Default()
}

// Shutdown tears down the process-wide registry. It returns ErrLeaked if
// handles were still live. A later call to any default-registry function
// starts a fresh registry.
func Shutdown() error {
	return handles.Shutdown()
}

// HandleForManaged returns a handle for v in the process-wide registry.
// The handle stays valid until ReleaseHandle is called on it.
func HandleForManaged(v any) (Handle, error) {
	return handles.Register(v)
}

// ManagedFromHandle returns the object behind h.
func ManagedFromHandle(h Handle) (any, error) {
	return handles.Lookup(h)
}

// ReleaseHandle invalidates h.
func ReleaseHandle(h Handle) error {
	return handles.Unregister(h)
}

// ResolveAs resolves h in r and asserts the object to T.
func ResolveAs[T any](r *Registry, h Handle) (T, error) {
	return handles.ResolveAs[T](r, h)
}

// GetMember returns the member called name of a managed object.
func GetMember(obj any, name string) (any, error) {
	return interop.GetMember(obj, name)
}

// AsInt32 converts an integer value to int32.
func AsInt32(v any) (int32, error) {
	return interop.AsInt32(v)
}

// MemberInt32 reads the member called name of a managed object as an int32.
func MemberInt32(obj any, name string) (int32, error) {
	return interop.MemberInt32(obj, name)
}
