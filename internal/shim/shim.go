//go:build !ios && !android && (amd64 || arm64)

// Package shim provides bindings to the handleshim helper library.
//
// The shim is a small C library that plays the native side of a callback
// round trip: it receives a C function pointer and two pointer-sized handle
// arguments and calls the function with them, exactly as foreign code
// holding a handle would.
//
// The shim is OPTIONAL. Without it, the trampoline is invoked directly
// through purego, which crosses the same C calling convention.
//
// To build the shim for your platform:
//
//	cd shim && make
package shim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/polyhandle/internal/platform"
)

// ShimDirEnv names the environment variable that overrides the shim search.
const ShimDirEnv = "POLYHANDLE_SHIM_DIR"

// ErrShimNotLoaded is returned when shim functions are called but the shim is not available.
var ErrShimNotLoaded = errors.New("polyhandle: shim library not loaded")

// ErrShimNotFound is returned when the shim library cannot be found.
var ErrShimNotFound = errors.New("polyhandle: shim library not found")

// ABIVersion is the handleshim ABI this package binds to.
const ABIVersion = 1

var (
	libShim  uintptr
	loaded   bool
	loadErr  error
	loadMu   sync.Mutex
	shimPath string // Path where shim was found (for diagnostics)

	// int32_t handleshim_call_pointer_arg(int32_t (*cb)(uintptr_t, uintptr_t), uintptr_t cb_handle, uintptr_t arg)
	shimCallPointerArg func(cb, cbHandle, arg uintptr) int32
	// uint32_t handleshim_abi_version(void)
	shimABIVersion func() uint32
)

// Load attempts to load the handleshim library.
// Returns nil if already loaded or if shim is not available.
//
// The shim is searched for in the following locations (in order):
//  1. POLYHANDLE_SHIM_DIR environment variable
//  2. LD_LIBRARY_PATH / DYLD_LIBRARY_PATH
//  3. Standard library paths (/usr/local/lib, /usr/lib, etc.)
//  4. Executable directory
//  5. Module's shim/ directory
//  6. Current working directory
//
// A shim that does not report ABIVersion is not used.
func Load() error {
	loadMu.Lock()
	defer loadMu.Unlock()

	if loaded {
		return nil
	}
	if loadErr != nil {
		return nil
	}

	path, err := findShimLibrary()
	if err != nil {
		// Shim is optional, so don't fail - but save detailed error for diagnostics
		loadErr = err
		return nil
	}

	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		loadErr = fmt.Errorf("failed to load shim at %s: %w", path, err)
		return nil
	}

	libShim = lib
	registerBindings()
	switch {
	case shimCallPointerArg == nil:
		loadErr = fmt.Errorf("%w: %s does not export handleshim_call_pointer_arg", ErrShimNotLoaded, path)
	case shimABIVersion == nil:
		loadErr = fmt.Errorf("%w: %s does not export handleshim_abi_version", ErrShimNotLoaded, path)
	default:
		if v := shimABIVersion(); v != ABIVersion {
			loadErr = fmt.Errorf("%w: %s has ABI version %d, want %d", ErrShimNotLoaded, path, v, ABIVersion)
		}
	}
	if loadErr != nil {
		shimCallPointerArg = nil
		shimABIVersion = nil
		_ = purego.Dlclose(lib)
		libShim = 0
		return nil
	}
	shimPath = path
	loaded = true
	return nil
}

// IsLoaded returns true if the shim library was successfully loaded.
func IsLoaded() bool {
	loadMu.Lock()
	defer loadMu.Unlock()
	return loaded
}

// Path returns the path where the shim was loaded from, or empty string if not loaded.
func Path() string {
	loadMu.Lock()
	defer loadMu.Unlock()
	return shimPath
}

// Status returns a human-readable status of the shim library.
// Useful for diagnostics and logging.
func Status() string {
	loadMu.Lock()
	defer loadMu.Unlock()

	if loaded {
		return fmt.Sprintf("loaded from %s", shimPath)
	}
	if loadErr != nil {
		return fmt.Sprintf("not loaded: %s", loadErr)
	}
	return "not loaded (Load() not called)"
}

// ExpectedLibraryName returns the expected shim library filename for the current platform.
func ExpectedLibraryName() string {
	return platform.FormatLibraryName("handleshim", 0)
}

// BuildInstructions describes how to build and install the shim on this
// platform. handlecheck prints it when the shim is missing.
func BuildInstructions() string {
	var compiler string
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		compiler = "any C99 compiler (cc, gcc or clang)"
	case "darwin":
		compiler = "the Xcode command line tools (xcode-select --install)"
	default:
		return fmt.Sprintf("the shim is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf(`%s is built from shim/handleshim.c with %s:
  cd shim && make
then either install it (sudo make install) or point %s at the directory:
  export %s=$PWD`, ExpectedLibraryName(), compiler, ShimDirEnv, ShimDirEnv)
}

func registerBindings() {
	if libShim == 0 {
		return
	}
	registerOptionalLibFunc(&shimCallPointerArg, libShim, "handleshim_call_pointer_arg")
	registerOptionalLibFunc(&shimABIVersion, libShim, "handleshim_abi_version")
}

func registerOptionalLibFunc(fptr any, handle uintptr, name string) {
	defer func() {
		_ = recover() // purego.RegisterLibFunc panics if symbol is missing
	}()
	purego.RegisterLibFunc(fptr, handle, name)
}

// CallPointerArg asks the shim to call cb(cbHandle, arg) from C.
// cb is a purego callback created with purego.NewCallback.
func CallPointerArg(cb, cbHandle, arg uintptr) (int32, error) {
	if !IsLoaded() {
		return 0, fmt.Errorf("%w: CallPointerArg requires shim", ErrShimNotLoaded)
	}
	return shimCallPointerArg(cb, cbHandle, arg), nil
}

func findShimLibrary() (string, error) {
	var names []string

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd", "darwin":
		names = []string{ExpectedLibraryName(), platform.FormatLibraryName("handleshim", 1)}
	default:
		return "", fmt.Errorf("%w: unsupported platform %s/%s", ErrShimNotFound, runtime.GOOS, runtime.GOARCH)
	}

	// POLYHANDLE_SHIM_DIR override (highest priority)
	if dir := os.Getenv(ShimDirEnv); dir != "" {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("%w: %s=%s does not contain %s", ErrShimNotFound, ShimDirEnv, dir, names[0])
	}

	searchPaths := searchDirs()

	searched := 0
	for _, name := range names {
		for _, dir := range searchPaths {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			searched++
		}
	}

	return "", fmt.Errorf("%w: looked for %s in %d locations. Set %s or build the shim: cd shim && make",
		ErrShimNotFound, names[0], searched, ShimDirEnv)
}

// searchDirs lists the directories searched when POLYHANDLE_SHIM_DIR is unset.
func searchDirs() []string {
	var dirs []string

	if runtime.GOOS == "darwin" {
		if p := os.Getenv("DYLD_LIBRARY_PATH"); p != "" {
			dirs = append(dirs, filepath.SplitList(p)...)
		}
	} else {
		if p := os.Getenv("LD_LIBRARY_PATH"); p != "" {
			dirs = append(dirs, filepath.SplitList(p)...)
		}
	}

	dirs = append(dirs,
		"/usr/local/lib",
		"/usr/lib",
		"/lib",
	)
	if runtime.GOOS == "darwin" {
		dirs = append(dirs, "/opt/homebrew/lib")
	}

	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}

	if dir := moduleShimDir(); dir != "" {
		dirs = append(dirs, dir)
	}

	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// moduleShimDir returns <module_root>/shim when running from a source tree.
func moduleShimDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	// internal/shim/shim.go -> <module_root>
	return filepath.Join(filepath.Dir(file), "..", "..", "shim")
}
