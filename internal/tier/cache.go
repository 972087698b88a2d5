package tier

import (
	"context"
	"fmt"

	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/fsys"
)

// Cache is the durable local object store.
type Cache struct {
	link
	fs fsys.Filesystem
}

// NewCache returns the cache tier.
func NewCache(f fsys.Filesystem) *Cache {
	return &Cache{fs: f}
}

func (c *Cache) Name() string { return "cache" }

func (c *Cache) Status(ctx context.Context, e *entry.Entry) error {
	p := &e.Presence
	if fi, err := c.fs.Stat(e.CachePath); err == nil {
		p.Cache = entry.Copy
		if !c.fs.Writable(e.CachePath) {
			p.Cache = entry.Locked
		}
		if !p.Working.Present() {
			p.Size = fi.Size()
		}
	}
	return c.nextStatus(ctx, e)
}

func (c *Cache) Get(ctx context.Context, e *entry.Entry) error {
	if c.fs.Exists(e.CachePath) {
		return nil
	}
	return c.nextGet(ctx, e)
}

// Put write protects the cached object and hands it to the next tier.
func (c *Cache) Put(ctx context.Context, e *entry.Entry) error {
	if !c.fs.Exists(e.CachePath) {
		return errors.ErrObjectMissing.Wrap(fmt.Errorf("%s: %s not in cache", e.RelPath, e.Digest.Short()))
	}
	if c.fs.Writable(e.CachePath) {
		if err := c.fs.Lock(e.CachePath); err != nil {
			return errors.ErrIO.Wrap(err)
		}
	}
	return c.nextPut(ctx, e)
}
