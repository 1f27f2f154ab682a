// Package pngmeta reads and writes PNG ancillary chunks carrying generation
// metadata: tEXt, zTXt and iTXt key/value text and the eXIf block.
package pngmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/text/encoding/charmap"
)

// Signature starts every PNG file.
var Signature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

var (
	ErrNotPNG    = errors.New("not a valid PNG file")
	ErrMalformed = errors.New("malformed PNG chunk")
)

// maxChunkLength is the largest chunk length a PNG may declare.
const maxChunkLength = 1<<31 - 1

// Info is the metadata found in a PNG stream.
type Info struct {
	// Text holds every tEXt, zTXt and iTXt entry by keyword. Later chunks win.
	Text map[string]string
	// Exif is the raw eXIf chunk, nil when absent.
	Exif []byte
}

// ReadInfo scans the chunks of a PNG stream up to IEND, skipping image data.
// A text chunk whose payload cannot be decoded is logged and skipped; a broken
// chunk layout is an error.
func ReadInfo(r io.Reader) (*Info, error) {
	header := make([]byte, len(Signature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, Signature) {
		return nil, ErrNotPNG
	}

	info := &Info{Text: make(map[string]string)}
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}
		if length > maxChunkLength {
			return nil, fmt.Errorf("%w: %s length %d", ErrMalformed, chunkType, length)
		}
		// in-memory sources report what is left, so lengths can be checked
		// before anything is allocated
		if lr, ok := r.(interface{ Len() int }); ok && int64(length)+4 > int64(lr.Len()) {
			return nil, fmt.Errorf("%w: %s length %d exceeds the remaining %d bytes", ErrMalformed, chunkType, length, lr.Len())
		}

		switch string(chunkType) {
		case "tEXt", "zTXt", "iTXt", "eXIf":
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			if err := info.add(string(chunkType), data); err != nil {
				slog.Warn("skipping unreadable chunk", "type", string(chunkType), "error", err)
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// skip the CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
		if string(chunkType) == "IEND" {
			break
		}
	}
	return info, nil
}

// ReadText returns the text entries of a PNG stream.
func ReadText(r io.Reader) (map[string]string, error) {
	info, err := ReadInfo(r)
	if err != nil {
		return nil, err
	}
	return info.Text, nil
}

func (info *Info) add(chunkType string, data []byte) error {
	if chunkType == "eXIf" {
		info.Exif = data
		return nil
	}

	keywordEnd := bytes.IndexByte(data, 0)
	if keywordEnd == -1 {
		return fmt.Errorf("%w: %s without keyword terminator", ErrMalformed, chunkType)
	}
	keyword := latin1(data[:keywordEnd])
	rest := data[keywordEnd+1:]

	switch chunkType {
	case "tEXt":
		info.Text[keyword] = latin1(rest)
	case "zTXt":
		if len(rest) < 1 {
			return fmt.Errorf("%w: empty zTXt", ErrMalformed)
		}
		text, err := inflate(rest[1:])
		if err != nil {
			return err
		}
		info.Text[keyword] = latin1(text)
	case "iTXt":
		// compression flag, method, language tag, translated keyword, text
		if len(rest) < 2 {
			return fmt.Errorf("%w: short iTXt", ErrMalformed)
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		for i := 0; i < 2; i++ {
			end := bytes.IndexByte(rest, 0)
			if end == -1 {
				return fmt.Errorf("%w: iTXt header", ErrMalformed)
			}
			rest = rest[end+1:]
		}
		if compressed {
			text, err := inflate(rest)
			if err != nil {
				return err
			}
			rest = text
		}
		info.Text[keyword] = string(rest)
	}
	return nil
}

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

func latin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// TextChunk is one keyword/value pair to embed.
type TextChunk struct {
	Key   string
	Value string
}

// Encode writes img as PNG with the given text chunks placed after IHDR.
func Encode(w io.Writer, img image.Image, level png.CompressionLevel, chunks []TextChunk) error {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, img); err != nil {
		return err
	}
	out, err := InsertText(buf.Bytes(), chunks)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// InsertText returns a copy of the PNG data with the chunks inserted right
// after the IHDR chunk. Values that are not Latin-1 are stored as iTXt.
func InsertText(data []byte, chunks []TextChunk) ([]byte, error) {
	if !bytes.HasPrefix(data, Signature) {
		return nil, ErrNotPNG
	}
	pos := len(Signature)
	if len(data) < pos+8 || string(data[pos+4:pos+8]) != "IHDR" {
		return nil, fmt.Errorf("%w: IHDR is not the first chunk", ErrMalformed)
	}
	end := pos + 12 + int(binary.BigEndian.Uint32(data[pos:pos+4]))
	if end > len(data) {
		return nil, fmt.Errorf("%w: truncated IHDR", ErrMalformed)
	}

	out := make([]byte, 0, len(data)+textSize(chunks))
	out = append(out, data[:end]...)
	for _, c := range chunks {
		chunk, err := textChunk(c)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return append(out, data[end:]...), nil
}

func textChunk(c TextChunk) ([]byte, error) {
	key, ok := toLatin1(c.Key)
	if !ok || len(key) == 0 || len(key) > 79 || bytes.IndexByte(key, 0) != -1 {
		return nil, fmt.Errorf("%w: invalid keyword %q", ErrMalformed, c.Key)
	}
	if value, ok := toLatin1(c.Value); ok {
		return rawChunk("tEXt", key, []byte{0}, value), nil
	}
	// uncompressed iTXt with empty language tag and translated keyword
	return rawChunk("iTXt", key, []byte{0, 0, 0, 0, 0}, []byte(c.Value)), nil
}

func rawChunk(chunkType string, parts ...[]byte) []byte {
	var body []byte
	for _, p := range parts {
		body = append(body, p...)
	}
	out := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	out = append(out, chunkType...)
	out = append(out, body...)
	crc := crc32.NewIEEE()
	crc.Write(out[4:])
	return binary.BigEndian.AppendUint32(out, crc.Sum32())
}

func toLatin1(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}

func textSize(chunks []TextChunk) int {
	n := 0
	for _, c := range chunks {
		n += 12 + len(c.Key) + 5 + len(c.Value)
	}
	return n
}
