// Package hashcache computes short content hashes of model artifacts and keeps
// them for the lifetime of the process.
//
// Entries are keyed by artifact name alone, across all kinds, and are never
// invalidated: a file replaced on disk after it was hashed keeps its old hash
// until the Cache is discarded.
package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/richinsley/sqnodes/artifacts"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// BlockSize is the read size used when streaming a file through the digest.
	BlockSize = 1024 * 1024
	// HashLength is the number of hex characters kept from the SHA-256 digest.
	HashLength = 10
)

// Opener opens an artifact file for reading.
type Opener func(path string) (io.ReadCloser, error)

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Ref names one artifact to hash.
type Ref struct {
	Name string
	Kind artifacts.Kind
}

// Cache maps artifact names to truncated SHA-256 digests. It is safe for
// concurrent use; concurrent lookups of the same name read the file once.
type Cache struct {
	resolver artifacts.Resolver
	open     Opener

	mu      sync.Mutex
	entries map[string]string
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithOpener replaces os.Open, e.g. to count reads or report progress.
func WithOpener(open Opener) Option {
	return func(c *Cache) { c.open = open }
}

// New returns an empty Cache that finds files through resolver.
func New(resolver artifacts.Resolver, opts ...Option) *Cache {
	c := &Cache{
		resolver: resolver,
		open:     openFile,
		entries:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hash returns the first HashLength hex characters of the SHA-256 of the
// artifact's contents. A cached value is returned without touching the file.
// Lookup failures wrap artifacts.ErrNotFound.
func (c *Cache) Hash(name string, kind artifacts.Kind) (string, error) {
	if v, ok := c.lookup(name); ok {
		slog.Debug("artifact hash cache hit", "name", name, "kind", kind)
		return v, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// another caller may have finished while we waited on the group
		if v, ok := c.lookup(name); ok {
			return v, nil
		}
		path, err := c.resolver.Resolve(kind, name)
		if err != nil {
			return "", err
		}
		sum, err := c.digest(path)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[name] = sum
		c.mu.Unlock()
		slog.Debug("artifact hashed", "name", name, "kind", kind, "hash", sum)
		return sum, nil
	})
	if err != nil {
		return "", fmt.Errorf("hashing %s %q: %w", kind, name, err)
	}
	return v.(string), nil
}

// HashAll hashes refs with at most limit files read at once (limit <= 0
// means one per ref) and returns the hashes by name. The first failure
// cancels nothing already running but is the error returned.
func (c *Cache) HashAll(refs []Ref, limit int) (map[string]string, error) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	var mu sync.Mutex
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		g.Go(func() error {
			h, err := c.Hash(ref.Name, ref.Kind)
			if err != nil {
				return err
			}
			mu.Lock()
			out[ref.Name] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[name]
	return v, ok
}

func (c *Cache) digest(path string) (string, error) {
	f, err := c.open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, BlockSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:HashLength], nil
}
