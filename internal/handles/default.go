package handles

import (
	"log/slog"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultReg    *Registry
	defaultLogger *slog.Logger
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg == nil {
		defaultReg = New(WithLogger(defaultLogger))
	}
	return defaultReg
}

// SetDefaultLogger sets the logger for the process-wide registry.
// It takes effect immediately if the registry already exists.
func SetDefaultLogger(l *slog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
	if defaultReg == nil {
		return
	}
	if l == nil {
		l = discardLogger
	}
	defaultReg.logger.Store(l)
}

// Shutdown closes the process-wide registry. The next call to Default
// creates a fresh one. It returns ErrLeaked if handles were still live.
func Shutdown() error {
	defaultMu.Lock()
	reg := defaultReg
	defaultReg = nil
	defaultMu.Unlock()

	if reg == nil {
		return nil
	}
	return reg.Close()
}

// Register stores a Go object in the process-wide registry and returns
// its handle. The handle can be safely stored in C memory (as uintptr or void*).
//
// Thread-safe.
func Register(v any) (Handle, error) {
	return Default().Acquire(v)
}

// Lookup retrieves an object from the process-wide registry.
//
// Thread-safe.
func Lookup(h Handle) (any, error) {
	return Default().Resolve(h)
}

// Unregister releases a handle in the process-wide registry.
// Should be called when native code no longer needs the reference.
//
// Thread-safe.
func Unregister(h Handle) error {
	return Default().Release(h)
}

// Count returns the number of live handles in the process-wide registry.
func Count() int {
	return Default().Count()
}
