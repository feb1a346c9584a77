package tblgen

import (
	"unicode/utf8"
)

// StringView is text owned by the record graph. It is only valid while its
// RecordKeeper is open.
type StringView struct {
	rel *release
	b   []byte
}

func (s StringView) bytes() []byte {
	s.rel.check()
	return s.b
}

// String decodes the text, failing with an *EncodingError if it is not
// valid UTF-8.
func (s StringView) String() (string, error) {
	b := s.bytes()
	if !utf8.Valid(b) {
		return "", &EncodingError{Offset: invalidOffset(b)}
	}
	return string(b), nil
}

// Bytes returns a copy of the raw text.
func (s StringView) Bytes() []byte {
	b := s.bytes()
	res := make([]byte, len(b))
	copy(res, b)
	return res
}

func (s StringView) Len() int {
	return len(s.bytes())
}

func invalidOffset(b []byte) int {
	off := 0
	for off < len(b) {
		r, n := utf8.DecodeRune(b[off:])
		if r == utf8.RuneError && n <= 1 {
			return off
		}
		off += n
	}
	return off
}
