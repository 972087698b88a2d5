// Package reach computes the set of digests referenced anywhere in a
// repository's manifest history.
//
// The set is what a clone reports to the depot as live; a retention sweep
// over every clone's report can then delete unreferenced objects safely.
package reach

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/git"
	"github.com/aweris/gitbig/internal/manifest"
	"go.uber.org/zap"
)

// History yields manifest contents from version control.
type History interface {
	// ManifestBlobs returns the distinct blob ids the manifest has had.
	ManifestBlobs(ctx context.Context) ([]string, error)
	// ReadBlobs calls fn with the content of every id.
	ReadBlobs(ctx context.Context, ids []string, fn func(id string, data []byte) error) error
}

// Set is a set of digests.
type Set map[digest.Digest]struct{}

// Sorted returns the digests in lexical order.
func (s Set) Sorted() []digest.Digest {
	out := make([]digest.Digest, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether d is in the set.
func (s Set) Has(d digest.Digest) bool {
	_, ok := s[d]
	return ok
}

// Scan reads each distinct manifest blob once and unions the digests of
// their files. Blobs that no longer parse are skipped.
func Scan(ctx context.Context, h History, l *zap.Logger) (Set, error) {
	if l == nil {
		l = zap.NewNop()
	}
	ids, err := h.ManifestBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest history: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	unique := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	set := make(Set)
	err = h.ReadBlobs(ctx, unique, func(id string, data []byte) error {
		m, err := manifest.Decode(bytes.NewReader(data))
		if err != nil {
			l.Warn("skipping unreadable manifest", zap.String("blob", id), zap.Error(err))
			return nil
		}
		for d := range m.Digests() {
			set[d] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest history: %w", err)
	}
	l.Debug("reachability scan", zap.Int("blobs", len(unique)), zap.Int("digests", len(set)))
	return set, nil
}

// GitHistory reads manifest history from a git repository.
type GitHistory struct {
	g *git.Git
}

// NewGitHistory returns the History of the repository g operates on.
func NewGitHistory(g *git.Git) *GitHistory {
	return &GitHistory{g: g}
}

func (h *GitHistory) ManifestBlobs(ctx context.Context) ([]string, error) {
	return h.g.PathBlobs(ctx, entry.ManifestName)
}

func (h *GitHistory) ReadBlobs(ctx context.Context, ids []string, fn func(id string, data []byte) error) error {
	return h.g.ReadBlobs(ctx, ids, fn)
}
