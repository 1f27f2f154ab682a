package nodes

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	"github.com/richinsley/sqnodes/graphapi"
	"github.com/richinsley/sqnodes/metacodec"
	"github.com/richinsley/sqnodes/provenance"
)

// ReadResult holds the outputs of the image reader node.
type ReadResult struct {
	ModelName string
	VAEName   string
	Loras     []provenance.LoraEntry
	Seed      int64
	Steps     int
	CFG       float64
	Sampler   string
	Scheduler string
	Width     int
	Height    int
	Positive  []string
	Negative  []string

	// Record is the full stored record, for feeding a writer's prior input.
	Record *provenance.Record
	// Image is decoded and turned upright according to its EXIF orientation.
	Image    image.Image
	Filename string

	Parameters string
	Snapshot   *graphapi.Snapshot
}

// ImageReader loads images written by ImageWriter.
type ImageReader struct{}

// Read loads path and its record. Images without a record fail with
// provenance.ErrNoMetadata.
func (ImageReader) Read(path string) (*ReadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := metacodec.Read(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Record == nil {
		return nil, fmt.Errorf("%s: %w", path, provenance.ErrNoMetadata)
	}

	var img image.Image
	switch c.Format {
	case metacodec.FormatWEBP:
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		img, err = png.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if c.Exif != nil {
		img = Orient(img, c.Exif.Orientation())
	}

	r := c.Record
	return &ReadResult{
		ModelName:  r.Model.Name,
		VAEName:    r.VAE.Name,
		Loras:      r.Loras,
		Seed:       r.Seed,
		Steps:      r.Steps,
		CFG:        r.CFG,
		Sampler:    r.Sampler,
		Scheduler:  r.Scheduler,
		Width:      r.Width,
		Height:     r.Height,
		Positive:   r.Positive,
		Negative:   r.Negative,
		Record:     r,
		Image:      img,
		Filename:   filepath.Base(path),
		Parameters: c.Parameters,
		Snapshot:   c.Snapshot,
	}, nil
}

// Orient applies an EXIF orientation (1-8) so the image displays upright.
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}
