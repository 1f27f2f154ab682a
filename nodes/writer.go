package nodes

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/richinsley/sqnodes/graphapi"
	"github.com/richinsley/sqnodes/metacodec"
	"github.com/richinsley/sqnodes/provenance"
)

// DefaultFilename is used when a write request names no file.
const DefaultFilename = "SQ_$timestamp_${5}.png"

var ErrBadPath = errors.New("invalid output path")

// ImageWriter saves images with their provenance record.
type ImageWriter struct {
	// Hasher hashes artifacts for fresh records, usually a *hashcache.Cache
	// shared by every write of the process.
	Hasher provenance.Hasher
	// OutputDir is the root all request directories are relative to.
	OutputDir string
	// DisableSnapshot keeps the host workflow out of every image.
	DisableSnapshot bool
	PNGCompression  png.CompressionLevel
	// Now defaults to time.Now.
	Now func() time.Time
}

// WriteRequest is one image to save. Either Prior is set and Overrides are
// applied to it, or the record is built from Fresh.
type WriteRequest struct {
	Image image.Image
	// Directory is relative to the writer's OutputDir.
	Directory       string
	Filename        string
	TimestampFormat string
	// Final leaves the host workflow snapshot out of the file.
	Final bool
	// Format overrides the container picked from the file extension.
	Format *metacodec.Format

	Fresh     provenance.FreshParams
	Prior     *provenance.Record
	Overrides provenance.Overrides
	Snapshot  *graphapi.Snapshot
}

// Write assembles the record, resolves the file name and saves the image. It
// returns the stored file name. Nothing is written when assembly fails.
func (w *ImageWriter) Write(req WriteRequest) (string, error) {
	if req.Image == nil {
		return "", errors.New("no image to write")
	}
	rec, err := provenance.Assemble(w.Hasher, req.Prior, req.Fresh, req.Overrides)
	if err != nil {
		return "", err
	}

	dir := w.OutputDir
	if req.Directory != "" {
		rel := filepath.FromSlash(req.Directory)
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("%w: directory %q", ErrBadPath, req.Directory)
		}
		dir = filepath.Join(dir, rel)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	template := req.Filename
	if template == "" {
		template = DefaultFilename
	}
	name := metacodec.FormatFilename(template, len(entries), req.TimestampFormat, w.now())
	if name != filepath.Base(name) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: file name %q", ErrBadPath, name)
	}

	format := metacodec.FormatFromPath(name)
	if req.Format != nil {
		format = *req.Format
	}
	var buf bytes.Buffer
	err = metacodec.Embed(&buf, req.Image, rec, metacodec.Options{
		Format:          format,
		Final:           req.Final,
		DisableSnapshot: w.DisableSnapshot,
		Snapshot:        req.Snapshot,
		PNGCompression:  w.PNGCompression,
	})
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Info("image saved",
		"write_id", uuid.NewString(),
		"path", path,
		"format", format,
		"final", req.Final,
		"record", rec.String(),
	)
	return name, nil
}

func (w *ImageWriter) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
