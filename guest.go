//go:build !ios && !android && (amd64 || arm64)

package polyhandle

import (
	"context"

	"github.com/obinnaokechukwu/polyhandle/internal/guest"
)

// Guest is a Boundary backed by a sandboxed WebAssembly module. Handles
// cross it as i64 values.
type Guest struct {
	g *guest.Guest
}

// GuestOption configures a Guest.
type GuestOption = guest.Option

// Guest options
var (
	GuestWithLogger      = guest.WithLogger
	GuestWithInterpreter = guest.WithInterpreter
)

// NewGuest starts a WebAssembly guest. Callback frames are registered in
// reg, or in the registry shared with the native boundary when reg is nil.
// Shutdown does not affect either.
func NewGuest(ctx context.Context, reg *Registry, opts ...GuestOption) (*Guest, error) {
	if reg == nil {
		reg = frames
	}
	g, err := guest.New(ctx, reg, opts...)
	if err != nil {
		return nil, err
	}
	return &Guest{g: g}, nil
}

// CallbackPointerArg implements Boundary.
func (g *Guest) CallbackPointerArg(ctx context.Context, cb Callback, arg Handle) (int32, error) {
	return g.g.CallbackPointerArg(ctx, cb, arg)
}

// Close shuts the guest down.
func (g *Guest) Close(ctx context.Context) error {
	return g.g.Close(ctx)
}
