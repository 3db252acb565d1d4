//go:build !ios && !android && (amd64 || arm64)

// Package platform provides platform detection for polyhandle.
// It reports the native word size handles must fit in and how shared
// libraries are named on the current operating system.
package platform

import (
	"fmt"
	"runtime"
	"unsafe"
)

// PointerBits is the width of a native pointer-sized argument, and therefore
// the widest handle that can cross a C call as a single argument.
const PointerBits = int(unsafe.Sizeof(uintptr(0))) * 8

// LibraryExtension is the file extension for shared libraries on this platform.
var LibraryExtension = ".so"

// LibraryPrefix is the prefix for shared library names on this platform.
const LibraryPrefix = "lib"

func init() {
	if runtime.GOOS == "darwin" {
		LibraryExtension = ".dylib"
	}
}

// FormatLibraryName returns the shared library filename for name on darwin
// and the ELF platforms. A version of 0 gives the unversioned name.
//
//	FormatLibraryName("handleshim", 1) // libhandleshim.so.1, libhandleshim.1.dylib
func FormatLibraryName(name string, version int) string {
	switch {
	case version <= 0:
		return LibraryPrefix + name + LibraryExtension
	case runtime.GOOS == "darwin":
		return fmt.Sprintf("%s%s.%d%s", LibraryPrefix, name, version, LibraryExtension)
	default:
		return fmt.Sprintf("%s%s%s.%d", LibraryPrefix, name, LibraryExtension, version)
	}
}

// FitsHandle reports whether a handle of the given bit width can be passed
// as a single native pointer-sized argument.
func FitsHandle(bits int) bool {
	return bits >= 1 && bits <= PointerBits
}
