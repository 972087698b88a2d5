// Package manifest reads and writes the tracked path to digest mapping.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/google/renameio"
)

// Version is the only manifest format version.
const Version = 1

// Manifest maps slash separated repository paths to content digests.
type Manifest struct {
	Version int                      `json:"version"`
	Files   map[string]digest.Digest `json:"files"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{Version: Version, Files: make(map[string]digest.Digest)}
}

// Load reads the manifest at path. A missing file yields an empty manifest.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Decode parses a manifest from r. Every digest must be well formed and
// every path a clean relative path that stays inside the working tree.
func Decode(r io.Reader) (*Manifest, error) {
	m := New()
	if err := json.NewDecoder(r).Decode(m); err != nil {
		return nil, err
	}
	if m.Files == nil {
		m.Files = make(map[string]digest.Digest)
	}
	for p, d := range m.Files {
		if err := ValidPath(p); err != nil {
			return nil, err
		}
		if !digest.Valid(string(d)) {
			return nil, fmt.Errorf("invalid digest %q for %s", d, p)
		}
	}
	m.Version = Version
	return m, nil
}

// ValidPath checks that p can be used as a manifest key.
func ValidPath(p string) error {
	if p == "" || path.Clean(p) != p || !filepath.IsLocal(filepath.FromSlash(p)) {
		return fmt.Errorf("invalid path %q", p)
	}
	for _, part := range strings.Split(p, "/") {
		if strings.EqualFold(part, ".git") {
			return fmt.Errorf("invalid path %q: inside .git", p)
		}
	}
	return nil
}

// Encode renders the manifest with four space indentation and sorted keys,
// followed by a newline.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save atomically writes the manifest to path. An empty manifest is not
// written; any existing file is removed instead and removed is true.
func (m *Manifest) Save(path string) (removed bool, err error) {
	if m.Len() == 0 {
		err := os.Remove(path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove manifest: %w", err)
	}

	return false, m.write(path)
}

func (m *Manifest) write(path string) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *Manifest) Get(path string) (digest.Digest, bool) {
	d, ok := m.Files[path]
	return d, ok
}

func (m *Manifest) Set(path string, d digest.Digest) {
	m.Files[path] = d
}

func (m *Manifest) Delete(path string) {
	delete(m.Files, path)
}

func (m *Manifest) Len() int { return len(m.Files) }

// Paths returns every tracked path in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Digests returns the distinct digests referenced by the manifest.
func (m *Manifest) Digests() map[digest.Digest]struct{} {
	set := make(map[digest.Digest]struct{}, len(m.Files))
	for _, d := range m.Files {
		set[d] = struct{}{}
	}
	return set
}

// Merge adds every entry of other, replacing entries that share a path.
func (m *Manifest) Merge(other *Manifest) {
	for p, d := range other.Files {
		m.Files[p] = d
	}
}
