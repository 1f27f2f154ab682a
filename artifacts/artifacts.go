// Package artifacts locates model files (checkpoints, VAEs, LoRAs) on disk by
// name, the way the host keeps them in per-kind model folders.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when no folder of the requested kind holds the artifact.
var ErrNotFound = errors.New("artifact not found")

// Kind selects the model folder an artifact is looked up in.
type Kind string

const (
	KindModel     Kind = "model"
	KindVAE       Kind = "vae"
	KindLora      Kind = "lora"
	KindVAEApprox Kind = "vae_approx"
)

// BuiltinVAE names the VAE bundled inside the checkpoint. It has no file of its own.
const BuiltinVAE = "built-in"

// SupportedExtensions are the file extensions listed as model files.
var SupportedExtensions = []string{".ckpt", ".pt", ".pt2", ".bin", ".pth", ".safetensors", ".pkl", ".sft"}

// Resolver maps an artifact name of a given kind to a readable file path.
type Resolver interface {
	Resolve(kind Kind, name string) (string, error)
}

// FolderStore resolves artifacts from lists of directories per kind.
// Names are slash separated paths relative to one of the kind's directories.
type FolderStore struct {
	Dirs map[Kind][]string
}

// NewFolderStore returns an empty store; add folders with AddDir.
func NewFolderStore() *FolderStore {
	return &FolderStore{Dirs: make(map[Kind][]string)}
}

// AddDir registers dir as a folder for kind. Earlier folders win on name clashes.
func (s *FolderStore) AddDir(kind Kind, dir string) {
	if s.Dirs == nil {
		s.Dirs = make(map[Kind][]string)
	}
	s.Dirs[kind] = append(s.Dirs[kind], dir)
}

// Resolve returns the path of the first regular file called name in kind's folders.
func (s *FolderStore) Resolve(kind Kind, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if name == "" || filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
	}
	for _, dir := range s.Dirs[kind] {
		p := filepath.Join(dir, rel)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// List returns the sorted, de-duplicated names of all model files of kind.
func (s *FolderStore) List(kind Kind) ([]string, error) {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, dir := range s.Dirs[kind] {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == dir && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !hasSupportedExtension(p) {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] {
				seen[rel] = true
				names = append(names, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s folder %s: %w", kind, dir, err)
		}
	}
	sort.Strings(names)
	return names, nil
}

func hasSupportedExtension(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
