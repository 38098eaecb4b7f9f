// Package codec implements the ambient UTF-8/Base32/Base64 coders and the
// token splitter that consume resizable buffers and memory blocks from
// the core allocator packages (§8.4 ambient collaborators).
package codec

import (
	"encoding/binary"

	"github.com/bvscd/embmem/internal/membuf"
	"github.com/bvscd/embmem/internal/memerrors"
)

// EstimateU16Encoding returns the UTF-8 encoding size, in bytes, of a
// single UTF-16 code unit.
func EstimateU16Encoding(u16 uint16) int {
	switch {
	case u16 < 0x0080:
		return 1
	case u16 < 0x0800:
		return 2
	default:
		return 3
	}
}

// EncodeU16Char encodes a single UTF-16 code unit into dst, returning the
// number of bytes consumed. Fails if dst is shorter than the estimated
// encoding size.
func EncodeU16Char(dst []byte, u16 uint16) (int, bool) {
	n := EstimateU16Encoding(u16)
	if len(dst) < n {
		return 0, false
	}
	switch n {
	case 1:
		dst[0] = byte(u16)
	case 2:
		dst[0] = 0xC0 | byte(u16>>6)
		dst[1] = 0x80 | byte(u16&0x3F)
	case 3:
		dst[0] = 0xE0 | byte(u16>>12)
		dst[1] = 0x80 | byte((u16>>6)&0x3F)
		dst[2] = 0x80 | byte(u16&0x3F)
	}
	return n, true
}

// EncodeU16 appends the UTF-8 encoding of every code unit in pu16 to utf8.
func EncodeU16(utf8 *membuf.Buffer, pu16 []uint16) error {
	var tmp [3]byte
	for _, u := range pu16 {
		n, ok := EncodeU16Char(tmp[:], u)
		if !ok {
			return memerrors.Internalf("EncodeU16", "failed to encode code unit %#x", u)
		}
		if err := utf8.Load(tmp[:n], utf8.Length(), uintptr(n)); err != nil {
			return err
		}
	}
	return nil
}

// leadByteWidth returns the total byte width of a UTF-8 sequence given its
// lead byte, using the RFC-3629-conformant ranges rather than the
// reference codec's looser `t > 0xDF` check (the corrected, intentional
// deviation recorded for this package).
func leadByteWidth(b byte) (width int, initial uint32, ok bool) {
	switch {
	case b <= 0x7F:
		return 1, uint32(b), true
	case b >= 0xC2 && b <= 0xDF:
		return 2, uint32(b & 0x1F), true
	case b >= 0xE0 && b <= 0xEF:
		return 3, uint32(b & 0x0F), true
	case b >= 0xF0 && b <= 0xF4:
		return 4, uint32(b & 0x07), true
	default:
		return 0, 0, false
	}
}

// DecodeU16 decodes a UTF-8 byte sequence into u16 (atom size 2), appending
// a surrogate pair for any code point beyond the basic multilingual plane.
// ok is false, not an error, for a malformed sequence.
func DecodeU16(u16 *membuf.Buffer, putf8 []byte) (ok bool, err error) {
	i := 0
	for i < len(putf8) {
		width, cp, valid := leadByteWidth(putf8[i])
		if !valid || i+width > len(putf8) {
			return false, nil
		}
		for k := 1; k < width; k++ {
			c := putf8[i+k]
			if c < 0x80 || c > 0xBF {
				return false, nil
			}
			cp = (cp << 6) | uint32(c&0x3F)
		}
		i += width

		if cp <= 0xFFFF {
			if err := appendU16(u16, uint16(cp)); err != nil {
				return false, err
			}
			continue
		}
		cp -= 0x10000
		hi := uint16(0xD800 + (cp >> 10))
		lo := uint16(0xDC00 + (cp & 0x3FF))
		if err := appendU16(u16, hi); err != nil {
			return false, err
		}
		if err := appendU16(u16, lo); err != nil {
			return false, err
		}
	}
	return true, nil
}

func appendU16(buf *membuf.Buffer, u uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], u)
	return buf.Load(tmp[:], buf.Length(), 1)
}

// ReadU16 decodes the 2-byte little-endian atoms of buf into a []uint16
// slice, for callers that decoded via DecodeU16.
func ReadU16(buf *membuf.Buffer) []uint16 {
	raw := buf.Bytes()
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return out
}

// ValidateU16 validates a UTF-8 byte sequence and reports how many UTF-16
// code units (counting surrogate pairs as two) it decodes to.
func ValidateU16(putf8 []byte) (count int, ok bool) {
	i := 0
	for i < len(putf8) {
		width, cp, valid := leadByteWidth(putf8[i])
		if !valid || i+width > len(putf8) {
			return 0, false
		}
		for k := 1; k < width; k++ {
			c := putf8[i+k]
			if c < 0x80 || c > 0xBF {
				return 0, false
			}
			cp = (cp << 6) | uint32(c&0x3F)
		}
		i += width
		if cp <= 0xFFFF {
			count++
		} else {
			count += 2
		}
	}
	return count, true
}
