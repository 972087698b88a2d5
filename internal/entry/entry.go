// Package entry derives the on-disk and depot locations of one tracked path.
//
// Entries are rebuilt from the manifest whenever they are needed and are never
// persisted. Their Presence is recomputed by the tier chain on every status
// query.
package entry

import (
	"path"
	"path/filepath"

	"github.com/aweris/gitbig/internal/digest"
)

const (
	// ManifestName is the tracked manifest file at the working root.
	ManifestName = ".gitbig"
	// AnchorsName is the git-excluded anchor directory at the working root.
	AnchorsName = ".gitbig-anchors"
	// ObjectsName is the object directory under the cache root.
	ObjectsName = "objects"
	// DepotObjectsPrefix namespaces content objects inside the depot.
	DepotObjectsPrefix = "objects/"
	// DepotRefsPrefix namespaces per-clone liveness reports inside the depot.
	DepotRefsPrefix = "refs/"
)

// Layout holds the roots every Entry is derived from.
type Layout struct {
	WorkingDir string
	AnchorsDir string
	ObjectsDir string
	HasDepot   bool
}

// NewLayout returns the layout for a working tree and cache root.
func NewLayout(workingDir, cacheDir string, hasDepot bool) Layout {
	return Layout{
		WorkingDir: workingDir,
		AnchorsDir: filepath.Join(workingDir, AnchorsName),
		ObjectsDir: filepath.Join(cacheDir, ObjectsName),
		HasDepot:   hasDepot,
	}
}

// Entry is one tracked path and the locations its bytes may occupy.
type Entry struct {
	RelPath string
	Digest  digest.Digest

	WorkingPath   string
	AnchorPath    string
	SymlinkTarget string
	CachePath     string
	// DepotPath is empty when no depot is configured.
	DepotPath string

	Presence Presence
}

// Entry builds the Entry for relPath, a slash separated path relative to the
// working root.
func (l Layout) Entry(relPath string, d digest.Digest) *Entry {
	e := &Entry{
		RelPath:     relPath,
		Digest:      d,
		WorkingPath: filepath.Join(l.WorkingDir, filepath.FromSlash(relPath)),
		AnchorPath:  shard(l.AnchorsDir, d),
		CachePath:   shard(l.ObjectsDir, d),
	}
	if target, err := filepath.Rel(filepath.Dir(e.WorkingPath), e.AnchorPath); err == nil {
		e.SymlinkTarget = target
	} else {
		e.SymlinkTarget = e.AnchorPath
	}
	if l.HasDepot {
		e.DepotPath = DepotObjectsPrefix + string(d)
	}
	return e
}

// ObjectPath returns the cache object path of d.
func (l Layout) ObjectPath(d digest.Digest) string {
	return shard(l.ObjectsDir, d)
}

// RelPath converts an absolute path inside the working tree into the slash
// separated manifest key. ok is false when p lies outside the tree.
func (l Layout) RelPath(p string) (rel string, ok bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err = filepath.Rel(l.WorkingDir, abs)
	if err != nil || rel == "." || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return path.Clean(filepath.ToSlash(rel)), true
}

func shard(root string, d digest.Digest) string {
	s := string(d)
	if len(s) < 4 {
		return filepath.Join(root, s)
	}
	return filepath.Join(root, s[0:2], s[2:4], s)
}
