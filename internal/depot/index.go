package depot

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/google/renameio"
)

// Index remembers digests already confirmed present in the depot, with their
// size, so repeated existence checks stay local.
//
// The file holds one "<digest> <size>" pair per line. It is read on first use
// and rewritten atomically after every change.
type Index struct {
	path string

	mu      sync.Mutex
	loaded  bool
	entries map[digest.Digest]int64
}

// NewIndex returns the index stored at path.
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// Has returns the recorded size of d.
func (i *Index) Has(d digest.Digest) (int64, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.load(); err != nil {
		return 0, false, err
	}
	size, ok := i.entries[d]
	return size, ok, nil
}

// Add records d with its size.
func (i *Index) Add(d digest.Digest, size int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.load(); err != nil {
		return err
	}
	if cur, ok := i.entries[d]; ok && cur == size {
		return nil
	}
	i.entries[d] = size
	return i.save()
}

// Remove forgets d.
func (i *Index) Remove(d digest.Digest) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.load(); err != nil {
		return err
	}
	if _, ok := i.entries[d]; !ok {
		return nil
	}
	delete(i.entries, d)
	return i.save()
}

// Len returns the number of recorded digests.
func (i *Index) Len() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.load(); err != nil {
		return 0, err
	}
	return len(i.entries), nil
}

func (i *Index) load() error {
	if i.loaded {
		return nil
	}
	i.entries = make(map[digest.Digest]int64)

	data, err := os.ReadFile(i.path)
	if os.IsNotExist(err) {
		i.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read depot index: %w", err)
	}

	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) != 2 || !digest.Valid(fields[0]) {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		i.entries[digest.Digest(fields[0])] = size
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("failed to parse depot index: %w", err)
	}
	i.loaded = true
	return nil
}

func (i *Index) save() error {
	keys := make([]string, 0, len(i.entries))
	for d := range i.entries {
		keys = append(keys, string(d))
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s %d\n", k, i.entries[digest.Digest(k)])
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	if err := renameio.WriteFile(i.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write depot index: %w", err)
	}
	return nil
}
