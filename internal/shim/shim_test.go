//go:build !ios && !android && (amd64 || arm64)

package shim

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildShim compiles src into dir as the expected shim library, skipping the
// test when no C compiler is available.
func buildShim(t *testing.T, dir, src string) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler")
	}
	flag := "-shared"
	if runtime.GOOS == "darwin" {
		flag = "-dynamiclib"
	}
	out := filepath.Join(dir, ExpectedLibraryName())
	if b, err := exec.Command(cc, "-O2", "-fPIC", flag, "-o", out, src).CombinedOutput(); err != nil {
		t.Skipf("cannot build shim: %v\n%s", err, b)
	}
	return out
}

// reloadFrom forgets any earlier load attempt and loads the shim from dir.
// The previous state is restored when the test ends.
func reloadFrom(t *testing.T, dir string) {
	t.Helper()
	loadMu.Lock()
	prevLib, prevLoaded, prevErr, prevPath := libShim, loaded, loadErr, shimPath
	prevCall, prevABI := shimCallPointerArg, shimABIVersion
	libShim, loaded, loadErr, shimPath = 0, false, nil, ""
	shimCallPointerArg, shimABIVersion = nil, nil
	loadMu.Unlock()

	t.Cleanup(func() {
		loadMu.Lock()
		libShim, loaded, loadErr, shimPath = prevLib, prevLoaded, prevErr, prevPath
		shimCallPointerArg, shimABIVersion = prevCall, prevABI
		loadMu.Unlock()
	})

	t.Setenv(ShimDirEnv, dir)
	require.NoError(t, Load())
}

func TestFindShimLibrary_RespectsShimDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unsupported OS for this test")
	}
	dir := t.TempDir()

	fake := filepath.Join(dir, ExpectedLibraryName())
	require.NoError(t, os.WriteFile(fake, []byte("not a real shim"), 0o644))

	t.Setenv(ShimDirEnv, dir)

	got, err := findShimLibrary()
	require.NoError(t, err)
	assert.Equal(t, fake, got)
}

func TestFindShimLibrary_ShimDirNotFound(t *testing.T) {
	t.Setenv(ShimDirEnv, t.TempDir())

	_, err := findShimLibrary()
	require.ErrorIs(t, err, ErrShimNotFound)
	assert.Contains(t, err.Error(), ShimDirEnv)
}

func TestExpectedLibraryName(t *testing.T) {
	switch runtime.GOOS {
	case "darwin":
		assert.Equal(t, "libhandleshim.dylib", ExpectedLibraryName())
	default:
		assert.Equal(t, "libhandleshim.so", ExpectedLibraryName())
	}
}

func TestBuildInstructions(t *testing.T) {
	instructions := BuildInstructions()
	require.NotEmpty(t, instructions)
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		assert.Contains(t, instructions, "make")
		assert.Contains(t, instructions, ShimDirEnv)
		assert.Contains(t, instructions, ExpectedLibraryName())
	}
}

func TestSearchDirs(t *testing.T) {
	t.Setenv("PATH", "/polyhandle-path-entry")
	dirs := searchDirs()

	assert.Contains(t, dirs, "/usr/local/lib")
	assert.NotContains(t, dirs, "/polyhandle-path-entry", "PATH is not searched")

	wantShim, err := filepath.Abs(filepath.Join("..", "..", "shim"))
	require.NoError(t, err)
	assert.Contains(t, dirs, filepath.Clean(wantShim), "source tree shim/ is searched")
}

func TestCallPointerArgWithoutShim(t *testing.T) {
	if IsLoaded() {
		t.Skip("shim is installed on this machine")
	}
	_, err := CallPointerArg(0, 0, 0)
	assert.ErrorIs(t, err, ErrShimNotLoaded)
}

func TestLoadBuiltShim(t *testing.T) {
	dir := t.TempDir()
	lib := buildShim(t, dir, filepath.Join("..", "..", "shim", "handleshim.c"))
	reloadFrom(t, dir)

	require.True(t, IsLoaded(), Status())
	assert.Equal(t, lib, Path())
	assert.Equal(t, uint32(ABIVersion), shimABIVersion())

	cb := purego.NewCallback(func(_ purego.CDecl, cbHandle, arg uintptr) int32 {
		return int32(cbHandle*100 + arg)
	})
	got, err := CallPointerArg(cb, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(304), got)
}

func TestLoadRejectsABIMismatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "future.c")
	require.NoError(t, os.WriteFile(src, []byte(`#include <stdint.h>
uint32_t handleshim_abi_version(void) { return 2; }
int32_t handleshim_call_pointer_arg(void *cb, uintptr_t h, uintptr_t a) { return 0; }
`), 0o644))
	buildShim(t, dir, src)
	reloadFrom(t, dir)

	assert.False(t, IsLoaded())
	assert.Empty(t, Path())
	assert.Contains(t, Status(), "ABI version 2")
	_, err := CallPointerArg(0, 0, 0)
	assert.ErrorIs(t, err, ErrShimNotLoaded)
}

func TestStatusBeforeAndAfterLoad(t *testing.T) {
	t.Setenv(ShimDirEnv, t.TempDir())
	require.NoError(t, Load(), "a missing shim is not an error")

	if IsLoaded() {
		assert.Contains(t, Status(), "loaded from")
		assert.NotEmpty(t, Path())
		return
	}
	assert.Contains(t, Status(), "not loaded")
	assert.Empty(t, Path())
}
