package guest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obinnaokechukwu/polyhandle/internal/handles"
	"github.com/obinnaokechukwu/polyhandle/internal/interop"
)

type managed struct {
	ValueI int32 `polyglot:"valueI"`
}

func newGuest(t *testing.T, reg *handles.Registry) *Guest {
	t.Helper()
	ctx := context.Background()
	g, err := New(ctx, reg, WithInterpreter())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(ctx) })
	return g
}

func TestGuestRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := handles.New()
	g := newGuest(t, reg)

	h, err := reg.Acquire(&managed{ValueI: 42})
	require.NoError(t, err)

	got, err := g.CallbackPointerArg(ctx, func(h handles.Handle) int32 {
		obj, err := reg.Resolve(h)
		if err != nil {
			return -1
		}
		n, err := interop.MemberInt32(obj, "valueI")
		if err != nil {
			return -1
		}
		return n
	}, h)
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	require.NoError(t, reg.Release(h))
	_, err = reg.Resolve(h)
	assert.ErrorIs(t, err, handles.ErrInvalidHandle)
	assert.Equal(t, 0, reg.Count(), "callback frames must be released")
}

func TestGuestPassesHandleUnchanged(t *testing.T) {
	ctx := context.Background()
	reg := handles.New()
	g := newGuest(t, reg)

	var seen handles.Handle
	_, err := g.CallbackPointerArg(ctx, func(h handles.Handle) int32 {
		seen = h
		return int32(h)
	}, handles.Handle(0x7fffffff))
	require.NoError(t, err)
	assert.Equal(t, handles.Handle(0x7fffffff), seen)
}

func TestGuestNegativeResult(t *testing.T) {
	g := newGuest(t, handles.New())
	got, err := g.CallbackPointerArg(context.Background(), func(handles.Handle) int32 { return -7 }, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), got)
}

func TestGuestRejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	g := newGuest(t, handles.New())

	_, err := g.CallbackPointerArg(ctx, nil, 1)
	assert.ErrorIs(t, err, handles.ErrNilObject)

	_, err = g.CallbackPointerArg(ctx, func(handles.Handle) int32 { return 0 }, 0)
	assert.ErrorIs(t, err, handles.ErrInvalidHandle)
}

func TestGuestCallbackPanic(t *testing.T) {
	reg := handles.New()
	g := newGuest(t, reg)

	_, err := g.CallbackPointerArg(context.Background(), func(handles.Handle) int32 {
		panic("boom")
	}, 1)
	require.ErrorIs(t, err, ErrCallbackPanic)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, reg.Count())
}

func TestGuestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	reg := handles.New()
	g := newGuest(t, reg)

	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(i int32) {
			defer wg.Done()
			h, err := reg.Acquire(&managed{ValueI: i})
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer func() { _ = reg.Release(h) }()

			got, err := g.CallbackPointerArg(ctx, func(h handles.Handle) int32 {
				m, err := handles.ResolveAs[*managed](reg, h)
				if err != nil {
					return -1
				}
				return m.ValueI
			}, h)
			if err != nil || got != i {
				t.Errorf("CallbackPointerArg = %d, %v; want %d", got, err, i)
			}
		}(int32(i))
	}
	wg.Wait()
}

func TestGuestNestedCall(t *testing.T) {
	ctx := context.Background()
	reg := handles.New()
	g := newGuest(t, reg)

	inner := func(h handles.Handle) int32 { return int32(h) * 2 }

	type result struct {
		n   int32
		err error
	}
	done := make(chan result, 1)
	go func() {
		var innerErr error
		n, err := g.CallbackPointerArg(ctx, func(h handles.Handle) int32 {
			n, err := g.CallbackPointerArg(ctx, inner, h)
			innerErr = err
			return n + 1
		}, 5)
		if err == nil {
			err = innerErr
		}
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, int32(11), r.n)
	case <-time.After(5 * time.Second):
		t.Fatal("nested guest call did not return")
	}
	assert.Equal(t, 0, reg.Count(), "both frames must be released")
}

func TestGuestClose(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, handles.New(), WithInterpreter())
	require.NoError(t, err)

	require.NoError(t, g.Close(ctx))
	require.NoError(t, g.Close(ctx))

	_, err = g.CallbackPointerArg(ctx, func(handles.Handle) int32 { return 0 }, 1)
	assert.ErrorIs(t, err, ErrGuestClosed)
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}
