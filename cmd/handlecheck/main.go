//go:build !ios && !android && (amd64 || arm64)

// handlecheck runs the handle round trip conformance check.
//
// Usage: handlecheck [-config handlecheck.toml]
//
// For every configured boundary it acquires a handle for an object whose
// valueI member is 42, passes the handle through the boundary, resolves it
// inside the callback, releases it and verifies it no longer resolves. It
// then stresses the registry from several goroutines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obinnaokechukwu/polyhandle"
	"github.com/obinnaokechukwu/polyhandle/internal/config"
	"github.com/obinnaokechukwu/polyhandle/internal/platform"
	"github.com/obinnaokechukwu/polyhandle/internal/shim"
)

// object is the managed object carried through each boundary.
type object struct {
	ValueI int32 `polyglot:"valueI"`
}

const expected = 42

func main() {
	configPath := flag.String("config", "", "path to "+config.FileName)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handlecheck: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	polyhandle.SetLogger(logger)

	if err := run(context.Background(), cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "handlecheck: FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("handlecheck: PASS")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) (err error) {
	if err := polyhandle.Init(); err != nil {
		return err
	}
	if shim.IsLoaded() {
		fmt.Fprintf(out, "native shim: %s (ABI %d)\n", shim.Path(), shim.ABIVersion)
	} else {
		fmt.Fprintf(out, "native shim: %s\n", polyhandle.ShimStatus())
		fmt.Fprintf(out, "native calls use purego directly. %s\n", shim.BuildInstructions())
	}

	width := platform.PointerBits
	if cfg.Bits > 0 {
		width = cfg.Bits
	}
	if !platform.FitsHandle(width) {
		return fmt.Errorf("%d-bit handles do not fit a %d-bit native argument", width, platform.PointerBits)
	}
	fmt.Fprintf(out, "handle width: %d bits\n", width)

	reg := polyhandle.NewRegistry(cfg.RegistryOptions(logger)...)
	defer func() {
		if cerr := reg.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	boundaries, closeAll, err := openBoundaries(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	for _, nb := range boundaries {
		if err := roundTrip(ctx, reg, nb.b); err != nil {
			return fmt.Errorf("%s round trip: %w", nb.name, err)
		}
		fmt.Fprintf(out, "%-6s round trip: ok (valueI=%d)\n", nb.name, expected)
	}

	start := time.Now()
	res, err := stress(ctx, cfg, reg, boundaries)
	if err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	st := reg.Stats()
	fmt.Fprintf(out, "stress: %d workers x %d iterations in %s, %d crossings, %d exhausted, %d slots, %d misuses\n",
		cfg.Workers, cfg.Iterations, time.Since(start).Round(time.Millisecond),
		res.crossings, res.exhausted, st.Slots, st.Misuses)
	return nil
}

type namedBoundary struct {
	name string
	b    polyhandle.Boundary
}

func openBoundaries(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]namedBoundary, func(), error) {
	var bs []namedBoundary
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Has("native") {
		bs = append(bs, namedBoundary{"native", polyhandle.Native{}})
	}
	if cfg.Has("guest") {
		opts := []polyhandle.GuestOption{polyhandle.GuestWithLogger(logger)}
		if cfg.Interpreter {
			opts = append(opts, polyhandle.GuestWithInterpreter())
		}
		g, err := polyhandle.NewGuest(ctx, nil, opts...)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("starting guest: %w", err)
		}
		closers = append(closers, func() { _ = g.Close(ctx) })
		bs = append(bs, namedBoundary{"guest", g})
	}
	return bs, closeAll, nil
}

// roundTrip is the sequential scenario. It runs before the stress so that
// no other goroutine can be issued the released handle value.
func roundTrip(ctx context.Context, reg *polyhandle.Registry, b polyhandle.Boundary) error {
	x := &object{ValueI: expected}
	h, err := reg.Acquire(x)
	if err != nil {
		return err
	}

	var cbErr error
	ret, err := b.CallbackPointerArg(ctx, func(h polyhandle.Handle) int32 {
		managed, err := reg.Resolve(h)
		if err != nil {
			cbErr = err
			return -1
		}
		n, err := polyhandle.MemberInt32(managed, "valueI")
		if err != nil {
			cbErr = err
			return -1
		}
		return n
	}, h)
	if relErr := reg.Release(h); err == nil {
		err = relErr
	}
	if err != nil {
		return err
	}
	if cbErr != nil {
		return cbErr
	}
	if ret != expected {
		return fmt.Errorf("callback returned %d, want %d", ret, expected)
	}

	if _, err := reg.Resolve(h); !polyhandle.IsInvalidHandle(err) {
		return fmt.Errorf("handle %d resolves after release (err=%v)", uintptr(h), err)
	}
	if err := reg.Release(h); !polyhandle.IsInvalidHandle(err) {
		return fmt.Errorf("double release of %d not reported (err=%v)", uintptr(h), err)
	}
	return nil
}

type stressResult struct {
	crossings int64
	exhausted int64
}

func stress(ctx context.Context, cfg config.Config, reg *polyhandle.Registry, bs []namedBoundary) (stressResult, error) {
	var res stressResult
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	var failed atomic.Bool
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		failed.Store(true)
	}

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < cfg.Iterations; i++ {
				if failed.Load() {
					return
				}
				want := int32(w*cfg.Iterations + i)

				if len(bs) > 0 && i%10 == 0 {
					b := bs[i/10%len(bs)]
					got, err := polyhandle.ReadThroughBoundary(ctx, reg, b.b, &object{ValueI: want}, "valueI")
					if errors.Is(err, polyhandle.ErrExhausted) {
						atomic.AddInt64(&res.exhausted, 1)
						continue
					}
					if err != nil || got != want {
						fail(fmt.Errorf("%s: got %d, %v; want %d", b.name, got, err, want))
						return
					}
					atomic.AddInt64(&res.crossings, 1)
					continue
				}

				obj := &object{ValueI: want}
				h, err := reg.Acquire(obj)
				if errors.Is(err, polyhandle.ErrExhausted) {
					atomic.AddInt64(&res.exhausted, 1)
					continue
				}
				if err != nil {
					fail(err)
					return
				}
				got, err := polyhandle.ResolveAs[*object](reg, h)
				if err != nil || got != obj {
					fail(fmt.Errorf("handle %d resolved to %v, %v; want %p", uintptr(h), got, err, obj))
					return
				}
				if err := reg.Release(h); err != nil {
					fail(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if firstErr != nil {
		return res, firstErr
	}
	if n := reg.Count(); n != 0 {
		return res, fmt.Errorf("%d handles still live after stress", n)
	}
	return res, nil
}
