package codec

// MemBlock is a mutable view over a byte range, mirroring mem_blk_t:
// token extraction advances and shrinks it in place when remove is set.
type MemBlock struct {
	Data []byte
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// GetToken scans src starting at offset for the next run of bytes
// terminated by separator or whitespace (or the end of src). If
// skipBefore, leading whitespace is skipped first. If remove, the
// consumed prefix (including the token and any separator) is removed
// from src in place. Returns ok=false, not an error, when no token is
// found (offset beyond src, or src is empty/all-whitespace from offset).
func (src *MemBlock) GetToken(offset int, separator byte, skipBefore, remove bool) (token []byte, ok bool) {
	if offset > len(src.Data) {
		return nil, false
	}
	p := src.Data[offset:]

	i := 0
	if skipBefore {
		for i < len(p) && isSpace(p[i]) {
			i++
		}
	}
	if i >= len(p) {
		return nil, false
	}

	start := i
	for i < len(p) && p[i] != separator && !isSpace(p[i]) {
		i++
	}
	if i == start {
		return nil, false
	}

	tok := append([]byte(nil), p[start:i]...)
	if remove {
		consumed := i
		if consumed < len(p) {
			consumed++ // also drop the separator/whitespace itself
		}
		rest := append([]byte(nil), p[consumed:]...)
		src.Data = append(src.Data[:offset], rest...)
	}
	return tok, true
}

// PopToken is GetToken with offset=0 and remove=true, mirroring the
// mem_blk_pop_token convenience macro.
func (src *MemBlock) PopToken(separator byte, skipBefore bool) ([]byte, bool) {
	return src.GetToken(0, separator, skipBefore, true)
}
