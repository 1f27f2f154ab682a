package provenance

import (
	"fmt"

	"github.com/richinsley/sqnodes/artifacts"
)

// fakeHasher hashes from a fixed table and records each lookup.
type fakeHasher struct {
	hashes map[string]string
	calls  []string
}

func (f *fakeHasher) Hash(name string, kind artifacts.Kind) (string, error) {
	f.calls = append(f.calls, string(kind)+":"+name)
	h, ok := f.hashes[name]
	if !ok {
		return "", fmt.Errorf("%s %q: %w", kind, name, artifacts.ErrNotFound)
	}
	return h, nil
}
