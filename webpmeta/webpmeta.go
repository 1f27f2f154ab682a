// Package webpmeta reads and writes the EXIF chunk of WEBP (RIFF) files.
package webpmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
)

var (
	ErrNotWEBP   = errors.New("not a valid WEBP file")
	ErrMalformed = errors.New("malformed WEBP chunk")
)

// VP8X feature flags.
const (
	flagAnimation = 0x02
	flagXMP       = 0x04
	flagEXIF      = 0x08
	flagAlpha     = 0x10
	flagICC       = 0x20
)

// Chunk is one RIFF chunk.
type Chunk struct {
	FourCC string
	Data   []byte
}

// IsWEBP reports whether data starts with a RIFF/WEBP header.
func IsWEBP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// Parse splits a WEBP file into its chunks.
func Parse(data []byte) ([]Chunk, error) {
	if !IsWEBP(data) {
		return nil, ErrNotWEBP
	}
	size := int(binary.LittleEndian.Uint32(data[4:8])) + 8
	if size > len(data) {
		return nil, fmt.Errorf("%w: RIFF size %d exceeds file size %d", ErrMalformed, size, len(data))
	}
	var chunks []Chunk
	pos := 12
	for pos+8 <= size {
		fourcc := string(data[pos : pos+4])
		n := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + 8
		if start+n > size {
			return nil, fmt.Errorf("%w: %s chunk truncated", ErrMalformed, fourcc)
		}
		chunks = append(chunks, Chunk{FourCC: fourcc, Data: data[start : start+n]})
		pos = start + n + n%2
	}
	return chunks, nil
}

// Assemble writes chunks back into a RIFF/WEBP file.
func Assemble(chunks []Chunk) []byte {
	var body bytes.Buffer
	body.WriteString("WEBP")
	for _, c := range chunks {
		body.WriteString(c.FourCC)
		binary.Write(&body, binary.LittleEndian, uint32(len(c.Data)))
		body.Write(c.Data)
		if len(c.Data)%2 == 1 {
			body.WriteByte(0)
		}
	}
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	return append(out, body.Bytes()...)
}

// ReadExif returns the EXIF chunk of a WEBP stream, or nil when it has none.
func ReadExif(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	chunks, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.FourCC == "EXIF" {
			return c.Data, nil
		}
	}
	return nil, nil
}

// SetExif returns data with its EXIF chunk replaced by exif. A simple (VP8 or
// VP8L only) file is promoted to the extended format first.
func SetExif(data []byte, exif []byte) ([]byte, error) {
	chunks, err := Parse(data)
	if err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(chunks)+2)
	hasVP8X := false
	for _, c := range chunks {
		switch c.FourCC {
		case "EXIF":
			continue
		case "VP8X":
			if len(c.Data) < 10 {
				return nil, fmt.Errorf("%w: short VP8X", ErrMalformed)
			}
			hasVP8X = true
			x := append([]byte(nil), c.Data...)
			x[0] |= flagEXIF
			c.Data = x
		}
		out = append(out, c)
	}

	if !hasVP8X {
		x, err := newVP8X(chunks)
		if err != nil {
			return nil, err
		}
		out = append([]Chunk{{FourCC: "VP8X", Data: x}}, out...)
	}

	// EXIF goes after the image data and before XMP
	at := len(out)
	for i, c := range out {
		if c.FourCC == "XMP " {
			at = i
			break
		}
	}
	out = append(out[:at], append([]Chunk{{FourCC: "EXIF", Data: exif}}, out[at:]...)...)
	return Assemble(out), nil
}

// newVP8X builds an extended header from the simple image bitstream.
func newVP8X(chunks []Chunk) ([]byte, error) {
	var width, height int
	found := false
	for _, c := range chunks {
		switch c.FourCC {
		case "VP8L":
			if len(c.Data) < 5 || c.Data[0] != 0x2f {
				return nil, fmt.Errorf("%w: bad VP8L header", ErrMalformed)
			}
			bits := binary.LittleEndian.Uint32(c.Data[1:5])
			width = int(bits&0x3fff) + 1
			height = int((bits>>14)&0x3fff) + 1
			// alpha stays inside the VP8L bitstream; golang.org/x/image/webp
			// rejects VP8L data under a VP8X header with the alpha flag set
			found = true
		case "VP8 ":
			if len(c.Data) < 10 || !bytes.Equal(c.Data[3:6], []byte{0x9d, 0x01, 0x2a}) {
				return nil, fmt.Errorf("%w: bad VP8 header", ErrMalformed)
			}
			width = int(binary.LittleEndian.Uint16(c.Data[6:8]) & 0x3fff)
			height = int(binary.LittleEndian.Uint16(c.Data[8:10]) & 0x3fff)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no image bitstream", ErrMalformed)
	}
	x := make([]byte, 10)
	x[0] = flagEXIF
	putUint24(x[4:7], uint32(width-1))
	putUint24(x[7:10], uint32(height-1))
	return x, nil
}

// CanvasSize returns the VP8X canvas dimensions.
func CanvasSize(vp8x []byte) (int, int) {
	if len(vp8x) < 10 {
		return 0, 0
	}
	return int(uint24(vp8x[4:7])) + 1, int(uint24(vp8x[7:10])) + 1
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// Encode writes img as lossless WEBP carrying the given EXIF data.
func Encode(w io.Writer, img image.Image, exif []byte) error {
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return fmt.Errorf("encoding webp: %w", err)
	}
	data := buf.Bytes()
	if exif != nil {
		var err error
		if data, err = SetExif(data, exif); err != nil {
			return err
		}
	}
	_, err := w.Write(data)
	return err
}
