// Package metacodec embeds provenance records in PNG and WEBP files and reads
// them back.
//
// PNG files carry the compatibility text under "parameters", the record under
// "metadata" and, unless the image is final, the host workflow snapshot under
// "prompt" and one key per extra entry. WEBP files carry the same data in an
// EXIF block: Software holds the record, UserComment the compatibility text
// and the snapshot is packed into 0th IFD tags counting down from Model.
package metacodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"

	"github.com/richinsley/sqnodes/exif"
	"github.com/richinsley/sqnodes/graphapi"
	"github.com/richinsley/sqnodes/pngmeta"
	"github.com/richinsley/sqnodes/provenance"
	"github.com/richinsley/sqnodes/webpmeta"
)

// Format is an image container.
type Format int

const (
	FormatPNG Format = iota
	FormatWEBP
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// PNG text keys.
const (
	KeyParameters = "parameters"
	KeyMetadata   = "metadata"
	KeyPrompt     = "prompt"
)

// SnapshotStartTag is the first 0th IFD tag used for the snapshot in WEBP
// files. It holds the prompt graph, each extra entry takes the next lower tag.
const SnapshotStartTag = exif.TagModel

// lowest tag the snapshot may occupy, ImageWidth is just below
const snapshotEndTag = exif.Tag(0x0101)

// Options control what Embed writes.
type Options struct {
	Format Format
	// Final marks a finished image; the snapshot is left out.
	Final bool
	// DisableSnapshot suppresses the snapshot for every image.
	DisableSnapshot bool
	Snapshot        *graphapi.Snapshot
	// PNGCompression is the zlib level for PNG output.
	PNGCompression png.CompressionLevel
}

func (o Options) snapshot() *graphapi.Snapshot {
	if o.Final || o.DisableSnapshot || o.Snapshot.IsEmpty() {
		return nil
	}
	return o.Snapshot
}

// Embed encodes img in the requested container with r stored in it.
func Embed(w io.Writer, img image.Image, r *provenance.Record, opts Options) error {
	blob, err := MarshalRecord(r)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	text := CompatText(r)
	snap := opts.snapshot()

	switch opts.Format {
	case FormatPNG:
		chunks := []pngmeta.TextChunk{
			{Key: KeyParameters, Value: text},
			{Key: KeyMetadata, Value: string(blob)},
		}
		if snap != nil {
			if len(snap.Prompt) > 0 {
				chunks = append(chunks, pngmeta.TextChunk{Key: KeyPrompt, Value: string(snap.Prompt)})
			}
			for _, k := range snap.ExtraKeys() {
				chunks = append(chunks, pngmeta.TextChunk{Key: k, Value: string(snap.ExtraPngInfo[k])})
			}
		}
		return pngmeta.Encode(w, img, opts.PNGCompression, chunks)

	case FormatWEBP:
		x := exif.New()
		x.Main[exif.TagSoftware] = exif.ASCII(string(blob))
		comment, err := exif.EncodeUserComment(text)
		if err != nil {
			return err
		}
		x.Sub[exif.TagUserComment] = exif.Undefined(comment)
		if snap != nil {
			if err := packSnapshot(x.Main, snap); err != nil {
				return err
			}
		}
		return webpmeta.Encode(w, img, x.Encode())
	}
	return fmt.Errorf("unsupported format %v", opts.Format)
}

func packSnapshot(ifd exif.IFD, snap *graphapi.Snapshot) error {
	tag := SnapshotStartTag
	prompt := snap.Prompt
	if len(prompt) == 0 {
		prompt = json.RawMessage("null")
	}
	ifd[tag] = exif.ASCII(KeyPrompt + ":" + string(prompt))
	for _, k := range snap.ExtraKeys() {
		tag--
		if tag < snapshotEndTag {
			return fmt.Errorf("too many snapshot entries for exif: %d", len(snap.ExtraPngInfo))
		}
		ifd[tag] = exif.ASCII(k + ":" + string(snap.ExtraPngInfo[k]))
	}
	return nil
}

// Contents is everything Read found in an image file.
type Contents struct {
	Format Format
	// Record is nil when the file has no readable metadata slot.
	Record *provenance.Record
	// Parameters is the compatibility text, empty when absent.
	Parameters string
	// Snapshot is nil when the file has no host workflow.
	Snapshot *graphapi.Snapshot
	// Exif is the parsed EXIF block, nil when absent.
	Exif *exif.Exif
}

// Sniff identifies the container from the leading bytes.
func Sniff(data []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(data, pngmeta.Signature):
		return FormatPNG, true
	case webpmeta.IsWEBP(data):
		return FormatWEBP, true
	}
	return 0, false
}

// Read collects the metadata of a PNG or WEBP file. A missing or unparsable
// record is not an error here; Record is simply nil.
func Read(data []byte) (*Contents, error) {
	format, ok := Sniff(data)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized image container", provenance.ErrNoMetadata)
	}
	c := &Contents{Format: format}

	var blob []byte
	switch format {
	case FormatPNG:
		info, err := pngmeta.ReadInfo(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if v, ok := info.Text[KeyMetadata]; ok {
			blob = []byte(v)
		}
		c.Parameters = info.Text[KeyParameters]
		c.Snapshot = pngSnapshot(info.Text)
		if info.Exif != nil {
			if c.Exif, err = exif.Decode(info.Exif); err != nil {
				slog.Warn("ignoring unreadable exif", "error", err)
			}
		}

	case FormatWEBP:
		raw, err := webpmeta.ReadExif(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if raw != nil {
			x, err := exif.Decode(raw)
			if err != nil {
				slog.Warn("ignoring unreadable exif", "error", err)
				break
			}
			c.Exif = x
			if f, ok := x.Main[exif.TagSoftware]; ok {
				blob = []byte(f.String())
			}
			if f, ok := x.Sub[exif.TagUserComment]; ok {
				if c.Parameters, err = exif.DecodeUserComment(f.Raw); err != nil {
					slog.Warn("ignoring unreadable user comment", "error", err)
				}
			}
			c.Snapshot = exifSnapshot(x.Main)
		}
	}

	if blob != nil {
		r, err := UnmarshalRecord(blob)
		if err != nil {
			slog.Warn("ignoring unreadable metadata", "format", format, "error", err)
		} else {
			c.Record = r
		}
	}
	return c, nil
}

// Extract returns the record embedded in an image. Only the metadata slot is
// consulted; the compatibility text is never parsed.
func Extract(r io.Reader) (*provenance.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c, err := Read(data)
	if err != nil {
		return nil, err
	}
	if c.Record == nil {
		return nil, provenance.ErrNoMetadata
	}
	return c.Record, nil
}

func pngSnapshot(text map[string]string) *graphapi.Snapshot {
	snap := &graphapi.Snapshot{ExtraPngInfo: map[string]json.RawMessage{}}
	for k, v := range text {
		switch k {
		case KeyParameters, KeyMetadata:
			continue
		case KeyPrompt:
			snap.Prompt = json.RawMessage(v)
			continue
		}
		if !json.Valid([]byte(v)) {
			slog.Debug("skipping non-json text chunk", "key", k)
			continue
		}
		snap.ExtraPngInfo[k] = json.RawMessage(v)
	}
	if snap.IsEmpty() {
		return nil
	}
	return snap
}

func exifSnapshot(ifd exif.IFD) *graphapi.Snapshot {
	snap := &graphapi.Snapshot{ExtraPngInfo: map[string]json.RawMessage{}}
	for tag := SnapshotStartTag; tag >= snapshotEndTag; tag-- {
		f, ok := ifd[tag]
		if !ok {
			break
		}
		key, value, ok := splitEntry(f.String())
		if !ok {
			break
		}
		if tag == SnapshotStartTag && key == KeyPrompt {
			if value != "null" {
				snap.Prompt = json.RawMessage(value)
			}
			continue
		}
		snap.ExtraPngInfo[key] = json.RawMessage(value)
	}
	if snap.IsEmpty() {
		return nil
	}
	return snap
}

// splitEntry splits "<key>:<json>" at the first colon that leaves valid JSON,
// so keys may contain colons themselves.
func splitEntry(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		if json.Valid([]byte(s[i+1:])) {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
