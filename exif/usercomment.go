package exif

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// UserComment character code prefixes.
var (
	unicodePrefix   = []byte("UNICODE\x00")
	asciiPrefix     = []byte("ASCII\x00\x00\x00")
	undefinedPrefix = make([]byte, 8)
)

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// EncodeUserComment returns a UserComment value holding s as UTF-16BE text.
func EncodeUserComment(s string) ([]byte, error) {
	enc, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding user comment: %w", err)
	}
	return append(append([]byte(nil), unicodePrefix...), enc...), nil
}

// DecodeUserComment returns the text of a UserComment value.
func DecodeUserComment(b []byte) (string, error) {
	if len(b) < 8 {
		return "", fmt.Errorf("%w: user comment too short", ErrMalformed)
	}
	prefix, body := b[:8], b[8:]
	switch {
	case bytes.Equal(prefix, unicodePrefix):
		dec, err := utf16BE.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("decoding user comment: %w", err)
		}
		return string(dec), nil
	case bytes.Equal(prefix, asciiPrefix), bytes.Equal(prefix, undefinedPrefix):
		return string(bytes.TrimRight(body, "\x00")), nil
	}
	return "", fmt.Errorf("%w: unsupported user comment encoding %q", ErrMalformed, prefix)
}
