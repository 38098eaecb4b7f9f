package allocator

// newSystemExtension obtains a new region backed by a real system memory
// mapping (see mapping_unix.go / mapping_windows.go / mapping_fallback.go),
// rounded up to a whole page by the platform-specific mapper.
func newSystemExtension(size uintptr) (*region, error) {
	buf, release, err := mapAnonymous(size)
	if err != nil {
		return nil, err
	}
	r, err := newRegion(buf, release)
	if err != nil {
		_ = release()
		return nil, err
	}
	return r, nil
}

// roundUpPage rounds size up to a multiple of pageSize.
func roundUpPage(size, pageSize uintptr) uintptr {
	if pageSize == 0 {
		return size
	}
	return (size + pageSize - 1) &^ (pageSize - 1)
}
