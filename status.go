package gitbig

import (
	"context"
	"fmt"
	"os"

	"github.com/aweris/gitbig/internal/entry"
	units "github.com/docker/go-units"
	"github.com/fatih/color"
)

// FileStatus is the presence of one tracked path across the tiers.
type FileStatus struct {
	Path     string
	Digest   string
	Presence entry.Presence
}

// Statuses computes the presence of every tracked path. Depot errors fail
// the whole query.
func (r *Repo) Statuses(ctx context.Context) ([]FileStatus, error) {
	chain := r.fullChain()
	entries := r.entries()
	out := make([]FileStatus, 0, len(entries))
	for _, e := range entries {
		if err := chain.Status(ctx, e); err != nil {
			return nil, fmt.Errorf("status %s: %w", e.RelPath, err)
		}
		out = append(out, FileStatus{Path: e.RelPath, Digest: string(e.Digest), Presence: e.Presence})
	}
	return out, nil
}

// Status prints the branch and one line per tracked path:
//
//	[ W C D ] 2cf24dba     5B hello.txt
func (r *Repo) Status(ctx context.Context) error {
	statuses, err := r.Statuses(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	if r.out != os.Stdout {
		green.DisableColor()
		red.DisableColor()
	}

	fmt.Fprintf(r.out, "On branch %s\n\n", r.git.Branch(ctx))
	fmt.Fprintln(r.out, "  Working")
	fmt.Fprintln(r.out, "    Cache")
	fmt.Fprintln(r.out, "      Depot")
	fmt.Fprintln(r.out, "          SHA-256    Size Path")
	for _, s := range statuses {
		w, c, d := statusBits(s.Presence)
		path := s.Path
		switch {
		case w == "*" || c == "U":
			path = red.Sprint(path)
		case w == "W":
			path = green.Sprint(path)
		}
		fmt.Fprintf(r.out, "[ %s %s %s ] %s %6s %s\n", w, c, d, shortDigest(s.Digest), humanSize(s.Presence.Size), path)
	}
	fmt.Fprintln(r.out)
	return nil
}

func statusBits(p entry.Presence) (w, c, d string) {
	w, c, d = " ", " ", " "
	switch {
	case p.IsLinked:
		w = "W"
	case p.Working.Present():
		w = "*"
	}
	switch p.Cache {
	case entry.Locked:
		c = "C"
	case entry.Copy:
		c = "U"
	}
	if p.Depot.Present() {
		d = "D"
	}
	return w, c, d
}

func shortDigest(d string) string {
	if len(d) > 8 {
		return d[:8]
	}
	return d
}

func humanSize(size int64) string {
	return units.BytesSize(float64(size))
}
