//go:build !ios && !android && (amd64 || arm64)

package polyhandle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/polyhandle/internal/handles"
	"github.com/obinnaokechukwu/polyhandle/internal/shim"
)

// Callback is a Go function that native code calls with a handle.
type Callback func(h Handle) int32

// Boundary passes a handle to foreign code, which calls cb with it.
type Boundary interface {
	CallbackPointerArg(ctx context.Context, cb Callback, arg Handle) (int32, error)
}

// callFrame carries one callback invocation through native code.
// Native code only ever sees the frame's handle.
type callFrame struct {
	cb     Callback
	called bool
	panicV any
}

// The trampoline is registered once and reused by every call, since purego
// can only create a limited number of callbacks per process.
var (
	trampolineOnce sync.Once
	trampolinePtr  uintptr
)

// frames holds in-flight callback frames. It is separate from the
// process-wide registry so that Shutdown cannot close it under an active
// call or hand a frame's handle value to an unrelated object.
var frames = handles.New()

func initTrampoline() {
	trampolineOnce.Do(func() {
		// int32_t trampoline(uintptr_t cb_handle, uintptr_t arg)
		trampolinePtr = purego.NewCallback(func(_ purego.CDecl, cbHandle, arg uintptr) int32 {
			f, err := handles.ResolveAs[*callFrame](frames, Handle(cbHandle))
			if err != nil {
				currentLogger().Warn("native code passed an unknown callback handle",
					"handle", cbHandle, "error", err)
				return -1
			}
			f.called = true

			// A panic must not unwind through C frames.
			defer func() {
				if r := recover(); r != nil {
					f.panicV = r
				}
			}()
			return f.cb(Handle(arg))
		})
	})
}

// CallbackPointerArg passes arg to native code together with a pointer to
// a C-callable trampoline; native code calls the trampoline with arg, which
// in turn calls cb(arg). The value cb returns is returned.
//
// When the native shim is loaded the call is made by C code in the shim,
// otherwise the trampoline is called directly through the C calling
// convention via purego.
func CallbackPointerArg(cb Callback, arg Handle) (int32, error) {
	if cb == nil {
		return 0, &HandleError{Op: "callback", Err: ErrNilObject}
	}
	if arg == 0 {
		return 0, &HandleError{Op: "callback", Handle: arg, Err: ErrInvalidHandle}
	}
	if err := Init(); err != nil {
		return 0, err
	}
	initTrampoline()

	f := &callFrame{cb: cb}
	fh, err := frames.Acquire(f)
	if err != nil {
		return 0, err
	}
	defer func() { _ = frames.Release(fh) }()

	var ret int32
	if shim.IsLoaded() {
		ret, err = shim.CallPointerArg(trampolinePtr, uintptr(fh), uintptr(arg))
		if err != nil {
			return 0, err
		}
	} else {
		r1, _, _ := purego.SyscallN(trampolinePtr, uintptr(fh), uintptr(arg))
		ret = int32(r1)
	}

	if !f.called {
		return 0, &HandleError{Op: "callback", Handle: fh, Err: ErrInvalidHandle}
	}
	if f.panicV != nil {
		return 0, fmt.Errorf("%w: %v", ErrCallbackPanic, f.panicV)
	}
	currentLogger().Debug("native callback returned", "handle", uintptr(arg), "result", ret)
	return ret, nil
}

// Native is the Boundary that crosses the C calling convention.
type Native struct{}

// CallbackPointerArg implements Boundary.
func (Native) CallbackPointerArg(_ context.Context, cb Callback, arg Handle) (int32, error) {
	return CallbackPointerArg(cb, arg)
}

// ReadThroughBoundary is the full round trip: it acquires a handle for obj
// in r, passes it through b, and inside the callback resolves the handle and
// reads member as an int32. The handle is released before returning.
func ReadThroughBoundary(ctx context.Context, r *Registry, b Boundary, obj any, member string) (int32, error) {
	h, err := r.Acquire(obj)
	if err != nil {
		return 0, err
	}

	var cbErr error
	ret, err := b.CallbackPointerArg(ctx, func(h Handle) int32 {
		managed, err := r.Resolve(h)
		if err != nil {
			cbErr = err
			return -1
		}
		n, err := MemberInt32(managed, member)
		if err != nil {
			cbErr = err
			return -1
		}
		return n
	}, h)

	if relErr := r.Release(h); relErr != nil && err == nil {
		err = relErr
	}
	if err != nil {
		return 0, err
	}
	if cbErr != nil {
		return 0, cbErr
	}
	return ret, nil
}
