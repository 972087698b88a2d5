// Package tier implements the storage tier chain.
//
// A chain is an ordered list of tiers, outermost first:
// - Working: the checkout, where tracked paths are symlinks into the anchors
// - Cache: the durable local object store, read-only after creation
// - Depot: the optional remote object store
//
// Every tier implements the same Status/Get/Put contract against an Entry and
// holds an explicit reference to the next tier inward. The order is chosen by
// the caller per operation, so a soft pull simply leaves the Depot out.
package tier

import (
	"context"
	"fmt"

	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
)

// Tier is one storage level of the chain.
type Tier interface {
	Name() string

	// Status fills this tier's presence flags on the entry, then asks the
	// next tier. It never mutates the filesystem.
	Status(ctx context.Context, e *entry.Entry) error

	// Get makes the entry's bytes present at this tier, fetching them from
	// the next tier when needed.
	Get(ctx context.Context, e *entry.Entry) error

	// Put moves the entry's bytes from this tier to the next one.
	Put(ctx context.Context, e *entry.Entry) error
}

type linker interface {
	setNext(next Tier)
}

// link is embedded by every tier to hold the next tier inward.
type link struct {
	next Tier
}

func (l *link) setNext(next Tier) { l.next = next }

func (l *link) nextStatus(ctx context.Context, e *entry.Entry) error {
	if l.next == nil {
		return nil
	}
	return l.next.Status(ctx, e)
}

func (l *link) nextPut(ctx context.Context, e *entry.Entry) error {
	if l.next == nil {
		return nil
	}
	return l.next.Put(ctx, e)
}

func (l *link) nextGet(ctx context.Context, e *entry.Entry) error {
	if l.next == nil {
		return errors.ErrObjectMissing.Wrap(fmt.Errorf("%s: %s not available", e.RelPath, e.Digest.Short()))
	}
	return l.next.Get(ctx, e)
}

// Chain is an ordered list of tiers, outermost first.
type Chain struct {
	tiers []Tier
}

// NewChain links each tier to the one following it. Tiers must not be shared
// between chains.
func NewChain(tiers ...Tier) *Chain {
	for i, t := range tiers {
		l, ok := t.(linker)
		if !ok {
			continue
		}
		if i+1 < len(tiers) {
			l.setNext(tiers[i+1])
		} else {
			l.setNext(nil)
		}
	}
	return &Chain{tiers: tiers}
}

// Names returns the tier names, outermost first.
func (c *Chain) Names() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name()
	}
	return names
}

// Status recomputes the entry's presence from scratch.
func (c *Chain) Status(ctx context.Context, e *entry.Entry) error {
	e.Reset()
	if len(c.tiers) == 0 {
		return nil
	}
	return c.tiers[0].Status(ctx, e)
}

// Get materializes the entry at the outermost tier.
func (c *Chain) Get(ctx context.Context, e *entry.Entry) error {
	if len(c.tiers) == 0 {
		return nil
	}
	return c.tiers[0].Get(ctx, e)
}

// Put pushes the entry from the outermost tier inward.
func (c *Chain) Put(ctx context.Context, e *entry.Entry) error {
	if len(c.tiers) == 0 {
		return nil
	}
	return c.tiers[0].Put(ctx, e)
}
