//go:build windows

package allocator

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const windowsPageSize = 4096

// mapAnonymous obtains an anonymous, zero-filled read-write mapping of at
// least size bytes via VirtualAlloc, rounded up to a whole page.
func mapAnonymous(size uintptr) ([]byte, func() error, error) {
	length := roundUpPage(size, windowsPageSize)

	addr, err := windows.VirtualAlloc(0, length, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, err
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)

	release := func() error {
		return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
	}
	return buf, release, nil
}
