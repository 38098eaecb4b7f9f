package codec

import (
	"strings"

	"github.com/bvscd/embmem/internal/memerrors"
)

const b32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Base32Flags mirrors b32_flags_e.
type Base32Flags uint32

const Base32IgnoreCase Base32Flags = 1

// b32EncodeAtom encodes up to 5 source bytes into an 8-character atom,
// RFC4648 §6, padding the tail with '=' for a partial group.
func b32EncodeAtom(src []byte) [8]byte {
	var in [5]byte
	n := copy(in[:], src)

	var out [8]byte
	out[0] = b32Alphabet[in[0]>>3]
	out[1] = b32Alphabet[(in[0]<<2|in[1]>>6)&0x1F]
	out[2] = b32Alphabet[(in[1]>>1)&0x1F]
	out[3] = b32Alphabet[(in[1]<<4|in[2]>>4)&0x1F]
	out[4] = b32Alphabet[(in[2]<<1|in[3]>>7)&0x1F]
	out[5] = b32Alphabet[(in[3]>>2)&0x1F]
	out[6] = b32Alphabet[(in[3]<<3|in[4]>>5)&0x1F]
	out[7] = b32Alphabet[in[4]&0x1F]

	// Pad according to how many real source bytes fed this atom.
	padFrom := [6]int{8, 2, 4, 5, 7, 8}[n]
	for i := padFrom; i < 8; i++ {
		out[i] = '='
	}
	return out
}

// b32DecodeAtom decodes an 8-character atom back to 1-5 bytes. The data
// length (non-'=' characters) must be one of {2, 4, 5, 7, 8}; lengths 1,
// 3, and 6 can never arise from a valid encoding and are rejected
// explicitly here rather than left as an implicit switch fallthrough (the
// recorded open-question decision for this function).
func b32DecodeAtom(atom [8]byte, ignoreCase bool) ([]byte, error) {
	dataLen := 8
	for dataLen > 0 && atom[dataLen-1] == '=' {
		dataLen--
	}

	var v [8]byte
	for i := 0; i < dataLen; i++ {
		c := atom[i]
		if ignoreCase && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		idx := strings.IndexByte(b32Alphabet, c)
		if idx < 0 {
			return nil, memerrors.BadParamf("b32DecodeAtom", "invalid base32 character %q", c)
		}
		v[i] = byte(idx)
	}

	switch dataLen {
	case 8:
		return []byte{
			v[0]<<3 | v[1]>>2,
			v[1]<<6 | v[2]<<1 | v[3]>>4,
			v[3]<<4 | v[4]>>1,
			v[4]<<7 | v[5]<<2 | v[6]>>3,
			v[6]<<5 | v[7],
		}, nil
	case 7:
		return []byte{
			v[0]<<3 | v[1]>>2,
			v[1]<<6 | v[2]<<1 | v[3]>>4,
			v[3]<<4 | v[4]>>1,
			v[4]<<7 | v[5]<<2 | v[6]>>3,
		}, nil
	case 5:
		return []byte{
			v[0]<<3 | v[1]>>2,
			v[1]<<6 | v[2]<<1 | v[3]>>4,
			v[3]<<4 | v[4]>>1,
		}, nil
	case 4:
		return []byte{
			v[0]<<3 | v[1]>>2,
			v[1]<<6 | v[2]<<1 | v[3]>>4,
		}, nil
	case 2:
		return []byte{
			v[0]<<3 | v[1]>>2,
		}, nil
	case 1, 3, 6:
		return nil, memerrors.BadParamf("b32DecodeAtom", "length %d cannot occur in a valid base32 encoding", dataLen)
	default:
		return nil, memerrors.BadParamf("b32DecodeAtom", "empty atom")
	}
}

// Base32Encode encodes data as RFC4648 base32, optionally wrapping with
// CRLF every cline encoded characters (0 disables wrapping).
func Base32Encode(data []byte, cline int) string {
	var sb strings.Builder
	written := 0
	for i := 0; i < len(data); i += 5 {
		end := i + 5
		if end > len(data) {
			end = len(data)
		}
		atom := b32EncodeAtom(data[i:end])
		for _, c := range atom {
			sb.WriteByte(c)
			written++
			if cline > 0 && written%cline == 0 {
				sb.WriteString("\r\n")
			}
		}
	}
	return sb.String()
}

// Base32Decode decodes an RFC4648 base32 string, ignoring any embedded
// line breaks.
func Base32Decode(s string, flags Base32Flags) ([]byte, error) {
	ignoreCase := flags&Base32IgnoreCase != 0
	var filtered []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered)%8 != 0 {
		return nil, memerrors.BadParamf("Base32Decode", "encoded length %d is not a multiple of 8", len(filtered))
	}

	var out []byte
	for i := 0; i < len(filtered); i += 8 {
		var atom [8]byte
		copy(atom[:], filtered[i:i+8])
		decoded, err := b32DecodeAtom(atom, ignoreCase)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
	}
	return out, nil
}
