package codec

import (
	"encoding/base64"
	"strings"

	"github.com/bvscd/embmem/internal/memerrors"
)

// Base64Flags mirrors b64_flags_e.
type Base64Flags uint32

const Base64URLSafe Base64Flags = 1

// Base64Encode encodes data as RFC4648 base64, optionally wrapping with
// CRLF every cline encoded characters (0 disables wrapping). No
// hand-rolled atom table is warranted here (unlike Base32, no open
// question was raised about this package's byte-level behavior); the
// standard library's encoding/base64 is the ordinary idiomatic choice.
func Base64Encode(data []byte, cline int, flags Base64Flags) string {
	enc := base64.StdEncoding
	if flags&Base64URLSafe != 0 {
		enc = base64.URLEncoding
	}
	full := enc.EncodeToString(data)
	if cline <= 0 {
		return full
	}

	var sb strings.Builder
	for i := 0; i < len(full); i += cline {
		end := i + cline
		if end > len(full) {
			end = len(full)
		}
		sb.WriteString(full[i:end])
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// Base64Decode decodes an RFC4648 base64 string, ignoring any embedded
// line breaks.
func Base64Decode(s string, flags Base64Flags) ([]byte, error) {
	enc := base64.StdEncoding
	if flags&Base64URLSafe != 0 {
		enc = base64.URLEncoding
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	out, err := enc.DecodeString(s)
	if err != nil {
		return nil, memerrors.BadParamf("Base64Decode", "%v", err)
	}
	return out, nil
}
