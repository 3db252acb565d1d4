// Package guest runs the callback round trip inside a WebAssembly guest.
//
// The guest is a sandboxed foreign module: it can only see handles as i64
// values and can only reach Go through the host import env.callback. It is
// the strictest form of native boundary, since no pointer can cross it.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/obinnaokechukwu/polyhandle/internal/handles"
)

var (
	// ErrGuestClosed indicates the guest has been closed.
	ErrGuestClosed = errors.New("polyhandle: guest is closed")

	// ErrCallbackPanic indicates a callback panicked while the guest was calling it.
	ErrCallbackPanic = errors.New("polyhandle: callback panicked")
)

// guestWasm is the binary encoding of:
//
//	(module
//	  (import "env" "callback" (func $cb (param i64 i64) (result i32)))
//	  (func (export "call_pointer_arg") (param i64 i64) (result i32)
//	    local.get 0
//	    local.get 1
//	    call $cb))
var guestWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	// type section: (i64, i64) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7f,
	// import section: env.callback, func type 0
	0x02, 0x10, 0x01,
	0x03, 'e', 'n', 'v',
	0x08, 'c', 'a', 'l', 'l', 'b', 'a', 'c', 'k',
	0x00, 0x00,
	// function section: one function of type 0
	0x03, 0x02, 0x01, 0x00,
	// export section: call_pointer_arg -> func 1
	0x07, 0x14, 0x01,
	0x10, 'c', 'a', 'l', 'l', '_', 'p', 'o', 'i', 'n', 't', 'e', 'r', '_', 'a', 'r', 'g',
	0x00, 0x01,
	// code section
	0x0a, 0x0a, 0x01, 0x08, 0x00,
	0x20, 0x00, // local.get 0
	0x20, 0x01, // local.get 1
	0x10, 0x00, // call 0
	0x0b, // end
}

const (
	hostModule   = "env"
	hostCallback = "callback"
	guestExport  = "call_pointer_arg"
)

// frame carries one callback invocation through the guest.
type frame struct {
	cb     func(handles.Handle) int32
	called bool
	panicV any
}

// Guest is a WebAssembly module that calls back into Go with handles.
//
// The module has no memory or globals, so each call runs on its own
// api.Function and calls may overlap, including a callback that crosses
// the same Guest again.
type Guest struct {
	mu      sync.Mutex // guards closed
	reg     *handles.Registry
	runtime wazero.Runtime
	module  api.Module
	entries sync.Pool // api.Function; one call engine per in-flight call
	logger  *slog.Logger
	closed  bool
}

// Option configures a Guest.
type Option func(*options)

type options struct {
	logger *slog.Logger
	interp bool
}

// WithLogger sets the logger for guest lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInterpreter forces the wazero interpreter instead of the compiler.
func WithInterpreter() Option {
	return func(o *options) { o.interp = true }
}

// New compiles and instantiates the guest. Callback frames are registered
// in reg for the duration of each call.
func New(ctx context.Context, reg *handles.Registry, opts ...Option) (*Guest, error) {
	if reg == nil {
		return nil, errors.New("polyhandle: guest requires a registry")
	}
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := wazero.NewRuntimeConfig()
	if o.interp {
		cfg = wazero.NewRuntimeConfigInterpreter()
	}
	cfg = cfg.WithCloseOnContextDone(true)

	g := &Guest{
		reg:     reg,
		runtime: wazero.NewRuntimeWithConfig(ctx, cfg),
		logger:  o.logger,
	}

	_, err := g.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(g.callback).
		Export(hostCallback).
		Instantiate(ctx)
	if err != nil {
		_ = g.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}

	g.module, err = g.runtime.Instantiate(ctx, guestWasm)
	if err != nil {
		_ = g.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating guest module: %w", err)
	}
	entry := g.module.ExportedFunction(guestExport)
	if entry == nil {
		_ = g.runtime.Close(ctx)
		return nil, fmt.Errorf("guest module does not export %s", guestExport)
	}
	g.entries.New = func() any { return g.module.ExportedFunction(guestExport) }
	g.entries.Put(entry)

	g.logger.Debug("guest ready", "export", guestExport)
	return g, nil
}

// callback is the host side of env.callback.
func (g *Guest) callback(_ context.Context, cbHandle, arg uint64) int32 {
	f, err := handles.ResolveAs[*frame](g.reg, handles.Handle(uintptr(cbHandle)))
	if err != nil {
		g.logger.Warn("guest passed an unknown callback handle", "handle", cbHandle, "error", err)
		return -1
	}
	f.called = true
	defer func() {
		if r := recover(); r != nil {
			f.panicV = r
		}
	}()
	return f.cb(handles.Handle(uintptr(arg)))
}

// CallbackPointerArg hands arg to the guest, which calls cb(arg) back on
// the host. The returned value is cb's result.
func (g *Guest) CallbackPointerArg(ctx context.Context, cb func(handles.Handle) int32, arg handles.Handle) (int32, error) {
	if cb == nil {
		return 0, &handles.Error{Op: "callback", Err: handles.ErrNilObject}
	}
	if arg == 0 {
		return 0, &handles.Error{Op: "callback", Handle: arg, Err: handles.ErrInvalidHandle}
	}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return 0, ErrGuestClosed
	}

	f := &frame{cb: cb}
	fh, err := g.reg.Acquire(f)
	if err != nil {
		return 0, err
	}
	defer func() { _ = g.reg.Release(fh) }()

	entry := g.entries.Get().(api.Function)
	res, err := entry.Call(ctx, uint64(fh), uint64(arg))
	g.entries.Put(entry)
	if err != nil {
		if g.isClosed() {
			return 0, fmt.Errorf("%w: %v", ErrGuestClosed, err)
		}
		return 0, fmt.Errorf("guest call: %w", err)
	}
	if !f.called {
		return 0, &handles.Error{Op: "callback", Handle: fh, Err: handles.ErrInvalidHandle}
	}
	if f.panicV != nil {
		return 0, fmt.Errorf("%w: %v", ErrCallbackPanic, f.panicV)
	}
	return api.DecodeI32(res[0]), nil
}

func (g *Guest) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Close releases the wazero runtime. Calls still in flight fail with
// ErrGuestClosed.
func (g *Guest) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.runtime.Close(ctx)
}
