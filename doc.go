// Package gitbig manages large files in a git repository without storing
// their bytes in history.
//
// A tracked file is replaced by a symlink into a per-repository anchor
// directory, which holds hardlinks to write protected objects in a shared
// content-addressed cache. The .gitbig manifest, committed alongside the
// links, maps every tracked path to the SHA-256 of its content. Objects are
// exchanged with a remote depot by push and pull.
//
// Basic usage:
//
//	repo, _ := gitbig.Open(ctx, gitbig.WithDir("."))
//	_ = repo.Init(ctx)
//
//	// Track files
//	_ = repo.Add(ctx, "assets/model.bin", "data/")
//
//	// Inspect where bytes live
//	_ = repo.Status(ctx)
//
// With a depot:
//
//	_ = repo.SetDepot(ctx, gitbig.DepotConfig{URL: "s3://bucket/prefix"})
//	repo, _ = gitbig.Open(ctx)
//	_ = repo.Push(ctx)
//	_ = repo.Pull(ctx, nil, gitbig.PullOptions{Hard: true})
//
// Every push and pull also publishes the set of digests referenced anywhere
// in the manifest's history, so a retention sweep across clones can tell
// which depot objects are still live.
package gitbig
