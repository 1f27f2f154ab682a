// Package exif reads and writes the small subset of TIFF/EXIF needed to keep
// provenance in WEBP files: the 0th IFD, the Exif sub-IFD, and ASCII, SHORT,
// LONG and UNDEFINED fields.
package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Tag is a TIFF field tag.
type Tag uint16

const (
	TagDocumentName     Tag = 0x010D
	TagImageDescription Tag = 0x010E
	TagMake             Tag = 0x010F
	TagModel            Tag = 0x0110
	TagOrientation      Tag = 0x0112
	TagSoftware         Tag = 0x0131
	TagExifIFD          Tag = 0x8769
	TagUserComment      Tag = 0x9286
)

// Type is a TIFF field type.
type Type uint16

const (
	TypeByte      Type = 1
	TypeASCII     Type = 2
	TypeShort     Type = 3
	TypeLong      Type = 4
	TypeRational  Type = 5
	TypeUndefined Type = 7
	TypeSLong     Type = 9
	TypeSRational Type = 10
)

func (t Type) size() int {
	switch t {
	case TypeByte, TypeASCII, TypeUndefined:
		return 1
	case TypeShort:
		return 2
	case TypeLong, TypeSLong:
		return 4
	case TypeRational, TypeSRational:
		return 8
	}
	return 0
}

// Header is the APP1 style prefix some writers put before the TIFF data.
var Header = []byte("Exif\x00\x00")

var ErrMalformed = errors.New("malformed exif data")

// Field is one IFD entry with its value bytes in the file's byte order.
type Field struct {
	Type  Type
	Count uint32
	Raw   []byte
	order binary.ByteOrder
}

// ASCII returns a NUL terminated ASCII field.
func ASCII(s string) Field {
	raw := append([]byte(s), 0)
	return Field{Type: TypeASCII, Count: uint32(len(raw)), Raw: raw}
}

// Undefined returns an opaque byte field.
func Undefined(b []byte) Field {
	return Field{Type: TypeUndefined, Count: uint32(len(b)), Raw: b}
}

// Short returns a single SHORT field.
func Short(v uint16) Field {
	raw := binary.LittleEndian.AppendUint16(nil, v)
	return Field{Type: TypeShort, Count: 1, Raw: raw, order: binary.LittleEndian}
}

// String returns an ASCII field's text without the trailing NULs.
func (f Field) String() string {
	return string(bytes.TrimRight(f.Raw, "\x00"))
}

// Uint returns the first value of a SHORT or LONG field.
func (f Field) Uint() (uint32, bool) {
	order := f.order
	if order == nil {
		order = binary.LittleEndian
	}
	switch {
	case f.Type == TypeShort && len(f.Raw) >= 2:
		return uint32(order.Uint16(f.Raw)), true
	case f.Type == TypeLong && len(f.Raw) >= 4:
		return order.Uint32(f.Raw), true
	}
	return 0, false
}

// IFD is a set of fields keyed by tag.
type IFD map[Tag]Field

// Exif holds the 0th IFD and the Exif sub-IFD. The sub-IFD pointer is
// managed by Encode and Decode and never appears in Main.
type Exif struct {
	Main IFD
	Sub  IFD
}

// New returns empty IFDs.
func New() *Exif {
	return &Exif{Main: IFD{}, Sub: IFD{}}
}

// Orientation returns the orientation tag, or 1 when absent or invalid.
func (x *Exif) Orientation() int {
	f, ok := x.Main[TagOrientation]
	if !ok {
		return 1
	}
	v, ok := f.Uint()
	if !ok || v < 1 || v > 8 {
		return 1
	}
	return int(v)
}

// Encode serializes x as little-endian TIFF without the Exif header.
func (x *Exif) Encode() []byte {
	const headerSize = 8
	main := cloneIFD(x.Main)
	delete(main, TagExifIFD)
	hasSub := len(x.Sub) > 0
	if hasSub {
		main[TagExifIFD] = longField(0)
	}

	first := encodeIFD(main, headerSize)
	if hasSub {
		main[TagExifIFD] = longField(uint32(headerSize + len(first)))
		first = encodeIFD(main, headerSize)
	}

	out := []byte{'I', 'I', 42, 0}
	out = binary.LittleEndian.AppendUint32(out, headerSize)
	out = append(out, first...)
	if hasSub {
		out = append(out, encodeIFD(x.Sub, uint32(len(out)))...)
	}
	return out
}

func longField(v uint32) Field {
	return Field{Type: TypeLong, Count: 1, Raw: binary.LittleEndian.AppendUint32(nil, v), order: binary.LittleEndian}
}

// encodeIFD lays out an IFD at offset followed by its out-of-line values.
func encodeIFD(ifd IFD, offset uint32) []byte {
	tags := make([]Tag, 0, len(ifd))
	for t := range ifd {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	le := binary.LittleEndian
	dirSize := uint32(2 + 12*len(tags) + 4)
	dir := le.AppendUint16(make([]byte, 0, dirSize), uint16(len(tags)))
	var data []byte
	for _, t := range tags {
		f := ifd[t]
		dir = le.AppendUint16(dir, uint16(t))
		dir = le.AppendUint16(dir, uint16(f.Type))
		dir = le.AppendUint32(dir, f.Count)
		if len(f.Raw) <= 4 {
			var inline [4]byte
			copy(inline[:], f.Raw)
			dir = append(dir, inline[:]...)
			continue
		}
		dir = le.AppendUint32(dir, offset+dirSize+uint32(len(data)))
		data = append(data, f.Raw...)
		if len(data)%2 == 1 {
			data = append(data, 0)
		}
	}
	dir = le.AppendUint32(dir, 0)
	return append(dir, data...)
}

func cloneIFD(ifd IFD) IFD {
	out := make(IFD, len(ifd)+1)
	for k, v := range ifd {
		out[k] = v
	}
	return out
}

// Decode parses TIFF data, with or without the Exif header.
func Decode(b []byte) (*Exif, error) {
	b = bytes.TrimPrefix(b, Header)
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}
	var order binary.ByteOrder
	switch string(b[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte order %q", ErrMalformed, b[:2])
	}
	if order.Uint16(b[2:4]) != 42 {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}

	x := New()
	main, err := decodeIFD(b, order.Uint32(b[4:8]), order)
	if err != nil {
		return nil, err
	}
	if ptr, ok := main[TagExifIFD]; ok {
		delete(main, TagExifIFD)
		if off, ok := ptr.Uint(); ok {
			if x.Sub, err = decodeIFD(b, off, order); err != nil {
				return nil, err
			}
		}
	}
	x.Main = main
	return x, nil
}

func decodeIFD(b []byte, offset uint32, order binary.ByteOrder) (IFD, error) {
	if uint64(offset)+2 > uint64(len(b)) {
		return nil, fmt.Errorf("%w: ifd offset %d out of range", ErrMalformed, offset)
	}
	n := int(order.Uint16(b[offset:]))
	pos := int(offset) + 2
	if pos+12*n > len(b) {
		return nil, fmt.Errorf("%w: ifd with %d entries truncated", ErrMalformed, n)
	}
	ifd := make(IFD, n)
	for i := 0; i < n; i, pos = i+1, pos+12 {
		e := b[pos : pos+12]
		tag := Tag(order.Uint16(e[0:2]))
		typ := Type(order.Uint16(e[2:4]))
		count := order.Uint32(e[4:8])
		size := uint64(typ.size()) * uint64(count)
		if typ.size() == 0 {
			continue
		}
		var raw []byte
		if size <= 4 {
			raw = append([]byte(nil), e[8:8+size]...)
		} else {
			off := uint64(order.Uint32(e[8:12]))
			if off+size > uint64(len(b)) {
				return nil, fmt.Errorf("%w: tag 0x%04x value out of range", ErrMalformed, uint16(tag))
			}
			raw = append([]byte(nil), b[off:off+size]...)
		}
		ifd[tag] = Field{Type: typ, Count: count, Raw: raw, order: order}
	}
	return ifd, nil
}
