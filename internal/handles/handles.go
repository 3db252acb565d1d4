// Package handles provides a thread-safe handle registry for Go objects
// that need to be referenced from native code.
//
// Native code cannot hold Go pointers. Instead, a Go object is registered
// and the registry hands back a small integral Handle that can be stored in
// native memory (as uintptr_t or void*) or passed through a narrow integer
// channel, and later resolved back to the object.
//
// A Handle is live from Acquire until Release. Resolving or releasing a
// handle that is not live is reported as ErrInvalidHandle, never ignored.
package handles

import (
	"log/slog"
	"math/bits"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handle is an opaque identifier for a registered Go object.
// The zero Handle is never issued.
type Handle uintptr

// Reuse selects which released slot is handed out next.
type Reuse int

const (
	// ReuseLIFO reuses the most recently released slot first.
	ReuseLIFO Reuse = iota
	// ReuseFIFO reuses the oldest released slot first.
	ReuseFIFO
)

// String returns the policy name.
func (r Reuse) String() string {
	switch r {
	case ReuseLIFO:
		return "lifo"
	case ReuseFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

type slot struct {
	obj  any
	live bool
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Live     int    // Currently live handles
	Slots    int    // Slots ever allocated
	Free     int    // Released slots awaiting reuse
	Acquired uint64 // Successful Acquire calls
	Released uint64 // Successful Release calls
	Misuses  uint64 // Calls rejected for contract violations
}

// Registry maps handles to Go objects.
// The zero value is not usable; create one with New.
type Registry struct {
	mu     sync.RWMutex
	slots  []slot   // handle h lives at slots[h-1]
	free   []Handle // released handles awaiting reuse
	live   int
	closed bool

	reuse  Reuse
	limit  int
	maxVal uint64
	logger atomic.Pointer[slog.Logger]

	acquired uint64
	released uint64
	misuses  uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithReuse sets the reuse policy for released handles.
func WithReuse(r Reuse) Option {
	return func(reg *Registry) { reg.reuse = r }
}

// WithLimit caps the number of simultaneously live handles. 0 means unlimited.
func WithLimit(n int) Option {
	return func(reg *Registry) {
		if n > 0 {
			reg.limit = n
		}
	}
}

// WithBits restricts handle values to n bits so they fit native integer
// channels narrower than a pointer. Values outside 1..pointer width are ignored.
func WithBits(n int) Option {
	return func(reg *Registry) {
		if n >= 1 && n <= bits.UintSize {
			reg.maxVal = 1<<uint(n) - 1 // wraps to all ones for n == 64
		}
	}
}

// WithLogger sets the logger used for handle lifecycle and misuse reports.
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		if l != nil {
			reg.logger.Store(l)
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{maxVal: uint64(^uintptr(0))}
	r.logger.Store(discardLogger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire registers v and returns a live handle for it.
// v must not be nil or a nil pointer, map, slice, chan, func or interface.
//
// Thread-safe.
func (r *Registry) Acquire(v any) (Handle, error) {
	if isNil(v) {
		r.mu.Lock()
		r.misuses++
		r.mu.Unlock()
		r.log().Warn("handle acquire rejected", "reason", "nil object")
		return 0, &Error{Op: "acquire", Err: ErrNilObject}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, &Error{Op: "acquire", Err: ErrClosed}
	}
	if r.limit > 0 && r.live >= r.limit {
		return 0, &Error{Op: "acquire", Err: ErrExhausted}
	}

	h, ok := r.popFree()
	if !ok {
		next := uint64(len(r.slots)) + 1
		if next > r.maxVal {
			return 0, &Error{Op: "acquire", Err: ErrExhausted}
		}
		r.slots = append(r.slots, slot{})
		h = Handle(next)
	}

	r.slots[h-1] = slot{obj: v, live: true}
	r.live++
	r.acquired++
	r.log().Debug("handle acquired", "handle", uintptr(h), "type", reflect.TypeOf(v).String())
	return h, nil
}

// popFree takes a released handle according to the reuse policy.
// Caller must hold r.mu.
func (r *Registry) popFree() (Handle, bool) {
	n := len(r.free)
	if n == 0 {
		return 0, false
	}
	var h Handle
	if r.reuse == ReuseFIFO {
		h = r.free[0]
		r.free[0] = 0
		r.free = r.free[1:]
	} else {
		h = r.free[n-1]
		r.free = r.free[:n-1]
	}
	return h, true
}

// Resolve returns the object bound to h.
//
// Thread-safe.
func (r *Registry) Resolve(h Handle) (any, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, &Error{Op: "resolve", Handle: h, Err: ErrClosed}
	}
	if h == 0 || uint64(h) > uint64(len(r.slots)) || !r.slots[h-1].live {
		r.mu.RUnlock()
		r.misuse("resolve", h)
		return nil, &Error{Op: "resolve", Handle: h, Err: ErrInvalidHandle}
	}
	v := r.slots[h-1].obj
	r.mu.RUnlock()
	return v, nil
}

// Release invalidates h and drops the registry's reference to its object.
// The handle value may be issued again by a later Acquire.
//
// Thread-safe.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Error{Op: "release", Handle: h, Err: ErrClosed}
	}
	if h == 0 || uint64(h) > uint64(len(r.slots)) || !r.slots[h-1].live {
		r.mu.Unlock()
		r.misuse("release", h)
		return &Error{Op: "release", Handle: h, Err: ErrInvalidHandle}
	}
	r.slots[h-1] = slot{}
	r.free = append(r.free, h)
	r.live--
	r.released++
	r.mu.Unlock()

	r.log().Debug("handle released", "handle", uintptr(h))
	return nil
}

func (r *Registry) log() *slog.Logger {
	return r.logger.Load()
}

func (r *Registry) misuse(op string, h Handle) {
	r.mu.Lock()
	r.misuses++
	r.mu.Unlock()
	r.log().Warn("invalid handle", "op", op, "handle", uintptr(h))
}

// Count returns the number of currently live handles.
// Useful for debugging and testing leaks.
//
// Thread-safe.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Live:     r.live,
		Slots:    len(r.slots),
		Free:     len(r.free),
		Acquired: r.acquired,
		Released: r.released,
		Misuses:  r.misuses,
	}
}

// Close tears the registry down and drops every reference it holds.
// It returns ErrLeaked if handles were still live. Operations after Close
// fail with ErrClosed. Closing an already closed registry is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	leaked := r.live
	r.slots = nil
	r.free = nil
	r.live = 0

	if leaked > 0 {
		r.log().Warn("registry closed with live handles", "count", leaked)
		return &Error{Op: "close", Err: leakedError(leaked)}
	}
	return nil
}

// ResolveAs resolves h and asserts the object to T.
func ResolveAs[T any](r *Registry, h Handle) (T, error) {
	var zero T
	v, err := r.Resolve(h)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &Error{Op: "resolve", Handle: h, Err: typeMismatch[T](v)}
	}
	return t, nil
}

// isNil reports whether v is nil or a nil value of a nilable kind.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Slice,
		reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
