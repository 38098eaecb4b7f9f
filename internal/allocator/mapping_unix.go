//go:build unix

package allocator

import (
	"golang.org/x/sys/unix"
)

// mapAnonymous obtains an anonymous, zero-filled read-write mapping of at
// least size bytes via mmap(2), rounded up to a whole page.
func mapAnonymous(size uintptr) ([]byte, func() error, error) {
	pageSize := uintptr(unix.Getpagesize())
	length := int(roundUpPage(size, pageSize))

	buf, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}

	release := func() error {
		return unix.Munmap(buf)
	}
	return buf, release, nil
}
