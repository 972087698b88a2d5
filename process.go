package gitbig

import (
	"context"
	"io"

	"github.com/aweris/gitbig/internal/filter"
	"github.com/aweris/gitbig/internal/manifest"
)

// ServeFilter answers a git long running filter session on in and out until
// git closes the pipe.
func (r *Repo) ServeFilter(ctx context.Context, in io.Reader, out io.Writer) error {
	return filter.NewServer(r.fs, r.layout, r.tmpDir(), r.l).Serve(ctx, in, out)
}

// Merge is the manifest merge driver. The result of merging theirs into
// ours replaces ours; base is not consulted.
func Merge(base, ours, theirs string) error {
	return manifest.MergeFiles(ours, theirs)
}
